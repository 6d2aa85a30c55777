package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/phone-notifier/internal/domain"
	"github.com/kursadbilgin/phone-notifier/internal/provider"
	"go.uber.org/zap"
)

type ProviderLookup interface {
	ByAlias(alias string) (provider.Provider, error)
}

type CallbackDispatcher interface {
	Dispatch(ctx context.Context, callback domain.StatusCallback) error
}

// WebhookHandler receives vendor status callbacks.
type WebhookHandler struct {
	providers  ProviderLookup
	dispatcher CallbackDispatcher
	logger     *zap.Logger
}

func NewWebhookHandler(providers ProviderLookup, dispatcher CallbackDispatcher, logger *zap.Logger) (*WebhookHandler, error) {
	if providers == nil {
		return nil, fmt.Errorf("provider lookup is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("callback dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{providers: providers, dispatcher: dispatcher, logger: logger}, nil
}

func RegisterWebhookRoutes(router fiber.Router, providers ProviderLookup, dispatcher CallbackDispatcher, logger *zap.Logger) error {
	h, err := NewWebhookHandler(providers, dispatcher, logger)
	if err != nil {
		return err
	}

	router.Post("/webhooks/:alias/:kind", h.ReceiveStatus)
	return nil
}

// ReceiveStatus acknowledges every callback it could decode, whatever reconciling it
// did. Only a failure to hand the callback on at all answers 503 so the vendor retries.
func (h *WebhookHandler) ReceiveStatus(c *fiber.Ctx) error {
	alias := strings.ToLower(strings.TrimSpace(c.Params("alias")))
	kind, err := domain.ParseKindFromString(c.Params("kind"))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, "unknown callback kind")
	}

	p, err := h.providers.ByAlias(alias)
	if err != nil {
		if errors.Is(err, provider.ErrUnknownProvider) {
			return fiber.NewError(fiber.StatusNotFound, "unknown provider")
		}
		return err
	}
	decoder, ok := p.(provider.CallbackDecoder)
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "provider does not accept status callbacks")
	}

	callback, err := decoder.DecodeCallback(kind, c.Get(fiber.HeaderContentType), c.Body())
	if err != nil {
		return toHTTPError(err)
	}
	callback.ProviderAlias = alias
	callback.Kind = kind
	if callback.RecordID == "" {
		callback.RecordID = strings.TrimSpace(c.Query(provider.RecordIDParam))
	}

	ctx := requestContext(c)
	if err := h.dispatcher.Dispatch(ctx, callback); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return toHTTPError(err)
		}
		h.logger.Error("status callback not accepted",
			zap.String("requestId", requestID(c)),
			zap.String("provider", alias),
			zap.String("vendorCorrelationId", callback.VendorCorrelationID),
			zap.Error(err),
		)
		return fiber.NewError(fiber.StatusServiceUnavailable, "status callback could not be processed")
	}

	return c.SendStatus(fiber.StatusNoContent)
}
