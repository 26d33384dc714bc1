// Package billing принимает webhook-и платёжного провайдера.
package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/traders-portal/internal/lib/sl"
	billingsvc "github.com/magabrotheeeer/traders-portal/internal/services/billing"
)

// SignatureHeader заголовок с подписью события.
const SignatureHeader = "Stripe-Signature"

const maxBodyBytes = 64 << 10

// Service обрабатывает проверенное событие.
type Service interface {
	Handle(ctx context.Context, event billingsvc.Event) error
}

// Handler обработчик webhook-а биллинга.
type Handler struct {
	log       *slog.Logger
	service   Service
	validate  *validator.Validate
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

// New создает новый Handler. tolerance ограничивает возраст подписи.
func New(log *slog.Logger, service Service, secret string, tolerance time.Duration) *Handler {
	return &Handler{
		log:       log,
		service:   service,
		validate:  validator.New(),
		secret:    secret,
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Sign считает подпись тела для заданного времени в формате заголовка "t=...,v1=...".
func Sign(secret string, ts time.Time, body []byte) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + t + ",v1=" + hex.EncodeToString(computeMAC(secret, t, body))
}

func computeMAC(secret, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

// verifySignature проверяет заголовок подписи. Подходит любая из подписей v1.
func (h *Handler) verifySignature(body []byte, header string) bool {
	if h.secret == "" || header == "" {
		return false
	}
	var timestamp string
	var signatures [][]byte
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			sig, err := hex.DecodeString(value)
			if err == nil {
				signatures = append(signatures, sig)
			}
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if h.tolerance > 0 {
		age := h.now().Sub(time.Unix(unix, 0))
		if age > h.tolerance || age < -h.tolerance {
			return false
		}
	}

	expected := computeMAC(h.secret, timestamp, body)
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			return true
		}
	}
	return false
}

// ServeHTTP godoc
// @Summary Webhook платёжного провайдера
// @Description Проверяет подпись и применяет событие к профилю. Повторная доставка события подтверждается без повторной обработки.
// @Tags Billing
// @Accept json
// @Param Stripe-Signature header string true "Подпись события"
// @Success 200
// @Failure 400
// @Failure 401
// @Failure 500
// @Router /billing/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !h.verifySignature(body, r.Header.Get(SignatureHeader)) {
		log.Error("invalid or missing webhook signature")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var event billingsvc.Event
	if err := json.Unmarshal(body, &event); err != nil {
		log.Error("failed to unmarshal webhook payload", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(event); err != nil {
		log.Error("webhook payload is incomplete", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.service.Handle(r.Context(), event); err != nil {
		if errors.Is(err, billingsvc.ErrInvalidPayload) {
			log.Error("malformed billing event", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		log.Error("failed to process webhook event", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	log.Info("webhook processed", slog.String("event_id", event.ID), slog.String("event_type", event.Type))
	w.WriteHeader(http.StatusOK)
}
