package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumerMessage_HandleMessages(t *testing.T) {
	amqpURI := amqpURIForTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := Connect(amqpURI, 3, time.Second)
	require.NoError(t, err)
	defer func() {
		if err := conn.Close(); err != nil {
			t.Errorf("failed to close connection: %v", err)
		}
	}()

	ch, err := conn.Channel()
	require.NoError(t, err)

	queueName := "consumer-test"
	_, err = ch.QueueDeclare(queueName, false, false, false, false, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)

	received := make([]string, 0)
	var mu sync.Mutex

	handler := func(body []byte) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, string(body))
		wg.Done()
		return nil
	}

	err = ConsumerMessage(ctx, newNoopLogger(), ch, queueName, handler)
	require.NoError(t, err)

	for _, msg := range []string{"hello", "world"} {
		err := ch.Publish("", queueName, false, false, amqp.Publishing{
			ContentType: "text/plain",
			Body:        []byte(msg),
		})
		require.NoError(t, err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Timeout waiting for messages to be processed")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"hello", "world"}, received)
}

func TestConsumerMessage_HandlerErrorTriggersRedelivery(t *testing.T) {
	amqpURI := amqpURIForTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := Connect(amqpURI, 3, time.Second)
	require.NoError(t, err)
	defer func() {
		if err := conn.Close(); err != nil {
			t.Errorf("failed to close connection: %v", err)
		}
	}()

	ch, err := conn.Channel()
	require.NoError(t, err)

	queueName := "nack-test"
	_, err = ch.QueueDeclare(queueName, false, false, false, false, nil)
	require.NoError(t, err)

	var mu sync.Mutex
	attempts := 0
	redelivered := make(chan struct{})
	handler := func(_ []byte) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return fmt.Errorf("smtp unavailable")
		}
		close(redelivered)
		return nil
	}

	err = ConsumerMessage(ctx, newNoopLogger(), ch, queueName, handler)
	require.NoError(t, err)

	err = ch.Publish("", queueName, false, false, amqp.Publishing{
		ContentType: "text/plain",
		Body:        []byte("bad"),
	})
	require.NoError(t, err)

	select {
	case <-redelivered:
	case <-time.After(10 * time.Second):
		t.Fatal("Did not receive requeued message after Nack")
	}
}

func TestConsumerMessage_MalformedMessageIsDropped(t *testing.T) {
	amqpURI := amqpURIForTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := Connect(amqpURI, 3, time.Second)
	require.NoError(t, err)
	defer func() {
		if err := conn.Close(); err != nil {
			t.Errorf("failed to close connection: %v", err)
		}
	}()

	ch, err := conn.Channel()
	require.NoError(t, err)

	queueName := "malformed-test"
	_, err = ch.QueueDeclare(queueName, false, false, false, false, nil)
	require.NoError(t, err)

	var mu sync.Mutex
	seen := map[string]int{}
	handled := make(chan string, 4)
	handler := func(body []byte) error {
		mu.Lock()
		seen[string(body)]++
		mu.Unlock()
		handled <- string(body)
		if string(body) == "garbage" {
			return fmt.Errorf("decode: %w", ErrMalformedMessage)
		}
		return nil
	}

	err = ConsumerMessage(ctx, newNoopLogger(), ch, queueName, handler)
	require.NoError(t, err)

	waitFor := func(want string) {
		t.Helper()
		select {
		case got := <-handled:
			require.Equal(t, want, got)
		case <-time.After(10 * time.Second):
			t.Fatalf("timeout waiting for %q", want)
		}
	}

	for _, msg := range []string{"garbage", "valid"} {
		err := ch.Publish("", queueName, false, false, amqp.Publishing{
			ContentType: "application/json",
			Body:        []byte(msg),
		})
		require.NoError(t, err)
		waitFor(msg)
	}

	select {
	case got := <-handled:
		t.Fatalf("unexpected redelivery of %q", got)
	case <-time.After(500 * time.Millisecond):
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"garbage": 1, "valid": 1}, seen)
}
