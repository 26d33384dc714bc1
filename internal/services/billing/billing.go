// Package billing применяет события платёжного провайдера к профилям:
// статус подписки, ID покупателя и выдачу продукта по умолчанию после оплаты.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/traders-portal/internal/lib/sl"
	"github.com/magabrotheeeer/traders-portal/internal/metrics"
	"github.com/magabrotheeeer/traders-portal/internal/models"
	"github.com/magabrotheeeer/traders-portal/internal/storage"
)

// Типы обрабатываемых событий.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentFailed       = "invoice.payment_failed"
)

// Результаты обработки для метрик.
const (
	ResultProcessed = "processed"
	ResultDuplicate = "duplicate"
	ResultIgnored   = "ignored"
	ResultFailed    = "failed"
)

// ErrInvalidPayload тело события не соответствует его типу.
var ErrInvalidPayload = errors.New("invalid billing event payload")

// Event событие платёжного провайдера.
type Event struct {
	ID   string `json:"id" validate:"required"`
	Type string `json:"type" validate:"required"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type checkoutSession struct {
	ClientReferenceID string `json:"client_reference_id"`
	Customer          string `json:"customer"`
}

type subscriptionObject struct {
	Customer string `json:"customer"`
	Status   string `json:"status"`
}

type invoiceObject struct {
	Customer string `json:"customer"`
}

// Repository определяет методы хранилища, нужные биллингу.
type Repository interface {
	SaveBillingEvent(ctx context.Context, eventID, eventType string) error
	DeleteBillingEvent(ctx context.Context, eventID string) error
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	GetProfileByCustomerID(ctx context.Context, customerID string) (*models.Profile, error)
	SetStripeCustomerID(ctx context.Context, userID, customerID string) error
	UpdateSubscriptionStatus(ctx context.Context, userID string, status models.SubscriptionStatus) error
}

// Entitlements выдаёт продукт по умолчанию после оплаты.
type Entitlements interface {
	AssignDefault(ctx context.Context, userID string) (bool, error)
}

// Publisher публикует доменные события.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// Service обработчик событий биллинга.
type Service struct {
	repo         Repository
	entitlements Entitlements
	publisher    Publisher
	metrics      *metrics.Metrics
	log          *slog.Logger
}

// New создает новый экземпляр Service.
func New(repo Repository, entitlements Entitlements, publisher Publisher, m *metrics.Metrics, log *slog.Logger) *Service {
	return &Service{
		repo:         repo,
		entitlements: entitlements,
		publisher:    publisher,
		metrics:      m,
		log:          log,
	}
}

// MapStatus переводит статус подписки провайдера в статус профиля.
func MapStatus(providerStatus string) models.SubscriptionStatus {
	switch providerStatus {
	case "active":
		return models.StatusActive
	case "trialing":
		return models.StatusTrialing
	case "canceled", "cancelled":
		return models.StatusCancelled
	default:
		return models.StatusInactive
	}
}

// Handle обрабатывает событие ровно один раз. Повтор уже принятого события
// игнорируется. При ошибке отметка о приёме снимается, чтобы провайдер мог повторить доставку.
func (s *Service) Handle(ctx context.Context, event Event) error {
	const op = "billing.Handle"
	log := s.log.With(slog.String("op", op), slog.String("event_id", event.ID), slog.String("event_type", event.Type))

	if !handled(event.Type) {
		s.metrics.BillingEvent(event.Type, ResultIgnored)
		log.Info("ignored billing event")
		return nil
	}

	err := s.repo.SaveBillingEvent(ctx, event.ID, event.Type)
	if errors.Is(err, storage.ErrConflict) {
		s.metrics.BillingEvent(event.Type, ResultDuplicate)
		log.Info("duplicate billing event")
		return nil
	}
	if err != nil {
		s.metrics.BillingEvent(event.Type, ResultFailed)
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.apply(ctx, event); err != nil {
		s.metrics.BillingEvent(event.Type, ResultFailed)
		if delErr := s.repo.DeleteBillingEvent(ctx, event.ID); delErr != nil {
			log.Error("failed to release billing event", sl.Err(delErr))
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.BillingEvent(event.Type, ResultProcessed)
	log.Info("billing event processed")
	return nil
}

func handled(eventType string) bool {
	switch eventType {
	case EventCheckoutCompleted, EventSubscriptionCreated, EventSubscriptionUpdated,
		EventSubscriptionDeleted, EventPaymentFailed:
		return true
	}
	return false
}

func (s *Service) apply(ctx context.Context, event Event) error {
	switch event.Type {
	case EventCheckoutCompleted:
		var obj checkoutSession
		if err := json.Unmarshal(event.Data.Object, &obj); err != nil || obj.ClientReferenceID == "" {
			return ErrInvalidPayload
		}
		return s.checkoutCompleted(ctx, obj)
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		var obj subscriptionObject
		if err := json.Unmarshal(event.Data.Object, &obj); err != nil || obj.Customer == "" {
			return ErrInvalidPayload
		}
		return s.setStatusByCustomer(ctx, obj.Customer, MapStatus(obj.Status))
	case EventSubscriptionDeleted:
		var obj subscriptionObject
		if err := json.Unmarshal(event.Data.Object, &obj); err != nil || obj.Customer == "" {
			return ErrInvalidPayload
		}
		return s.setStatusByCustomer(ctx, obj.Customer, models.StatusCancelled)
	case EventPaymentFailed:
		var obj invoiceObject
		if err := json.Unmarshal(event.Data.Object, &obj); err != nil || obj.Customer == "" {
			return ErrInvalidPayload
		}
		return s.setStatusByCustomer(ctx, obj.Customer, models.StatusInactive)
	}
	return nil
}

func (s *Service) checkoutCompleted(ctx context.Context, obj checkoutSession) error {
	const op = "billing.checkoutCompleted"
	if _, err := uuid.Parse(obj.ClientReferenceID); err != nil {
		s.log.Warn("checkout with malformed client reference", slog.String("client_reference_id", obj.ClientReferenceID))
		return nil
	}
	profile, err := s.repo.GetProfile(ctx, obj.ClientReferenceID)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.Warn("checkout for unknown user", slog.String("user_id", obj.ClientReferenceID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if obj.Customer != "" {
		if err := s.repo.SetStripeCustomerID(ctx, profile.ID, obj.Customer); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := s.setStatus(ctx, profile, models.StatusActive); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := s.entitlements.AssignDefault(ctx, profile.ID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Service) setStatusByCustomer(ctx context.Context, customerID string, status models.SubscriptionStatus) error {
	const op = "billing.setStatusByCustomer"
	profile, err := s.repo.GetProfileByCustomerID(ctx, customerID)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.Warn("billing event for unknown customer", slog.String("customer_id", customerID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.setStatus(ctx, profile, status); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Service) setStatus(ctx context.Context, profile *models.Profile, status models.SubscriptionStatus) error {
	if profile.SubscriptionStatus == status {
		return nil
	}
	if err := s.repo.UpdateSubscriptionStatus(ctx, profile.ID, status); err != nil {
		return err
	}
	s.log.Info("subscription status changed", slog.String("user_id", profile.ID),
		slog.String("from", string(profile.SubscriptionStatus)), slog.String("to", string(status)))

	event := models.SubscriptionChangedEvent{UserID: profile.ID, Email: profile.Email, Status: status}
	if err := s.publisher.Publish(ctx, models.EventSubscriptionChanged, event); err != nil {
		s.log.Warn("failed to publish subscription changed event", sl.Err(err))
	}
	return nil
}
