package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/traders-portal/internal/lib/sl"
)

// ErrMalformedMessage обработчик не смог разобрать тело сообщения.
// Такое сообщение не возвращается в очередь: повтор его не исправит.
var ErrMalformedMessage = errors.New("malformed message")

// maxInFlight сколько сообщений одной очереди обрабатывается параллельно.
const maxInFlight = 10

// ConsumerMessage запускает потребителя очереди queueName. Успешно обработанные
// сообщения подтверждаются, при ошибке обработчика сообщение возвращается в очередь.
// Ошибка, обёрнутая в ErrMalformedMessage, отбрасывает сообщение без повтора.
func ConsumerMessage(ctx context.Context, log *slog.Logger, ch *amqp.Channel, queueName string, handler func([]byte) error) error {
	const op = "rabbitmq.ConsumerMessage"
	delivery, err := ch.Consume(
		queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log = log.With(slog.String("op", op), slog.String("queue", queueName))
	sem := make(chan struct{}, maxInFlight)
	go func() {
		for {
			select {
			case d, ok := <-delivery:
				if !ok {
					log.Info("delivery channel closed")
					return
				}
				sem <- struct{}{}
				go func(delivery amqp.Delivery) {
					defer func() { <-sem }()
					err := handler(delivery.Body)
					if errors.Is(err, ErrMalformedMessage) {
						log.Error("malformed message dropped", sl.Err(err), slog.Int("size", len(delivery.Body)))
						if nackErr := delivery.Nack(false, false); nackErr != nil {
							log.Error("failed to nack message", sl.Err(nackErr))
						}
						return
					}
					if err != nil {
						log.Warn("handler failed, requeue message", sl.Err(err))
						if nackErr := delivery.Nack(false, true); nackErr != nil {
							log.Error("failed to nack message", sl.Err(nackErr))
						}
						return
					}
					if ackErr := delivery.Ack(false); ackErr != nil {
						log.Error("failed to ack message", sl.Err(ackErr))
					}
				}(d)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
