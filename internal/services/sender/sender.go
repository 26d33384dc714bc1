// Package sender отправляет письма пользователям по доменным событиям портала.
package sender

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/magabrotheeeer/traders-portal/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/traders-portal/internal/lib/sl"
	"github.com/magabrotheeeer/traders-portal/internal/lib/smtp"
	"github.com/magabrotheeeer/traders-portal/internal/models"
)

var productNames = map[string]string{
	models.ProductCodeAlphaStrategy: "Alpha Strategy",
	models.ProductCodeAlphaLite:     "Alpha Lite",
}

var statusText = map[models.SubscriptionStatus]string{
	models.StatusActive:    "activa",
	models.StatusTrialing:  "en periodo de prueba",
	models.StatusCancelled: "cancelada",
	models.StatusInactive:  "inactiva",
}

// SenderService формирует и отправляет письма.
type SenderService struct {
	transport smtp.TransportInterface
	log       *slog.Logger
}

// NewSenderService создает новый экземпляр SenderService.
func NewSenderService(log *slog.Logger, transport smtp.TransportInterface) *SenderService {
	return &SenderService{
		transport: transport,
		log:       log,
	}
}

// SendProductAssigned уведомляет о выдаче продукта.
func (s *SenderService) SendProductAssigned(body []byte) error {
	var message models.ProductAssignedEvent
	if err := json.Unmarshal(body, &message); err != nil {
		s.log.Error("failed to unmarshal message body", sl.Err(err))
		return fmt.Errorf("error unmarshalling message: %w: %w", rabbitmq.ErrMalformedMessage, err)
	}
	if message.Email == "" {
		s.log.Warn("product assigned event without email, skipping", slog.String("user_id", message.UserID))
		return nil
	}

	name, ok := productNames[message.ProductCode]
	if !ok {
		name = message.ProductCode
	}
	subject := fmt.Sprintf("Ya tienes acceso a %s", name)
	bodyText := fmt.Sprintf("Hola,\n\nSe ha activado %s en tu cuenta de Todos Somos Traders.\n"+
		"Puedes descargarlo desde la sección de descargas del portal.\n\n"+
		"Recuerda: cada versión tiene un número limitado de descargas.", name)

	return s.sendEmail([]string{message.Email}, subject, bodyText)
}

// SendSubscriptionChanged уведомляет о смене статуса подписки.
func (s *SenderService) SendSubscriptionChanged(body []byte) error {
	var message models.SubscriptionChangedEvent
	if err := json.Unmarshal(body, &message); err != nil {
		s.log.Error("failed to unmarshal message body", sl.Err(err))
		return fmt.Errorf("error unmarshalling message: %w: %w", rabbitmq.ErrMalformedMessage, err)
	}
	if message.Email == "" {
		s.log.Warn("subscription changed event without email, skipping", slog.String("user_id", message.UserID))
		return nil
	}

	status, ok := statusText[message.Status]
	if !ok {
		status = string(message.Status)
	}
	subject := "Estado de tu suscripción"
	bodyText := fmt.Sprintf("Hola,\n\nTu suscripción a Todos Somos Traders ahora está %s.", status)
	if message.Status != models.StatusActive && message.Status != models.StatusTrialing {
		bodyText += "\nLas aplicaciones y el soporte no estarán disponibles hasta que la renueves."
	}

	return s.sendEmail([]string{message.Email}, subject, bodyText)
}

func (s *SenderService) sendEmail(to []string, subject, bodyText string) error {
	from := s.transport.GetSMTPUser()
	msg := strings.Join([]string{
		"From: " + from,
		"To: " + strings.Join(to, ";"),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		bodyText,
	}, "\r\n")

	client, err := s.transport.Connect()
	if err != nil {
		s.log.Error("failed to connect to SMTP server", sl.Err(err))
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Mail(from); err != nil {
		s.log.Error("failed to set MAIL FROM", slog.String("from", from), sl.Err(err))
		return err
	}
	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			s.log.Error("failed to set RCPT TO", slog.String("recipient", addr), sl.Err(err))
			return err
		}
	}

	wc, err := client.Data()
	if err != nil {
		s.log.Error("failed to get Data writer", sl.Err(err))
		return err
	}
	if _, err = wc.Write([]byte(msg)); err != nil {
		s.log.Error("failed to write email body", sl.Err(err))
		return err
	}
	if err = wc.Close(); err != nil {
		s.log.Error("failed to close Data writer", sl.Err(err))
		return err
	}
	if err = client.Quit(); err != nil {
		s.log.Error("failed to quit SMTP client", sl.Err(err))
		return err
	}

	s.log.Info("email sent successfully", slog.Any("to", to), slog.String("subject", subject))
	return nil
}
