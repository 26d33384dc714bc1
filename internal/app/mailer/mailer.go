// Package mailer собирает приложение, которое разбирает очереди доменных событий
// и отправляет письма пользователям.
package mailer

import (
	"context"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/traders-portal/internal/config"
	"github.com/magabrotheeeer/traders-portal/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/traders-portal/internal/lib/sl"
	"github.com/magabrotheeeer/traders-portal/internal/lib/smtp"
	senderservice "github.com/magabrotheeeer/traders-portal/internal/services/sender"
)

type App struct {
	conn          *amqp.Connection
	ch            *amqp.Channel
	senderService *senderservice.SenderService
	logger        *slog.Logger
}

func New(_ context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, err
	}

	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	transport := smtp.NewTransport(cfg.SMTP, logger)
	senderService := senderservice.NewSenderService(logger, transport)

	return &App{
		conn:          conn,
		ch:            ch,
		senderService: senderService,
		logger:        logger,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	consumers := map[string]func([]byte) error{
		rabbitmq.QueueProductAssigned:     a.senderService.SendProductAssigned,
		rabbitmq.QueueSubscriptionChanged: a.senderService.SendSubscriptionChanged,
	}
	for queue, handler := range consumers {
		if err := rabbitmq.ConsumerMessage(ctx, a.logger, a.ch, queue, handler); err != nil {
			a.logger.Error("failed to start consumer", slog.String("queue", queue), sl.Err(err))
			return err
		}
	}

	<-ctx.Done()
	a.logger.Info("mailer shutting down gracefully")

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	return nil
}
