package smtp

import (
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/traders-portal/internal/config"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestTransport_GetSMTPUser(t *testing.T) {
	tr := NewTransport(config.SMTP{SMTPUser: "robot@traders.example"}, newNoopLogger())
	assert.Equal(t, "robot@traders.example", tr.GetSMTPUser())
}

func TestTransport_ConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	tr := NewTransport(config.SMTP{SMTPHost: "127.0.0.1", SMTPPort: port}, newNoopLogger())
	client, err := tr.Connect()
	require.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "smtp.Connect")
}

func TestTransport_ConnectWithoutStartTLS(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	// Минимальный SMTP-сервер без расширения STARTTLS.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		_, _ = conn.Write([]byte("220 localhost ESMTP\r\n"))
		buf := make([]byte, 512)
		for {
			n, err := conn.Read(buf)
			if err != nil || n == 0 {
				return
			}
			line := string(buf[:n])
			switch {
			case len(line) >= 4 && line[:4] == "EHLO":
				_, _ = conn.Write([]byte("250-localhost\r\n250 8BITMIME\r\n"))
			case len(line) >= 4 && line[:4] == "QUIT":
				_, _ = conn.Write([]byte("221 bye\r\n"))
				return
			default:
				_, _ = conn.Write([]byte("250 ok\r\n"))
			}
		}
	}()

	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	tr := NewTransport(config.SMTP{SMTPHost: "127.0.0.1", SMTPPort: port}, newNoopLogger())
	client, err := tr.Connect()
	require.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "STARTTLS")
}
