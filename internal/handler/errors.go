package handler

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/phone-notifier/internal/domain"
	"github.com/kursadbilgin/phone-notifier/internal/observability"
	"github.com/kursadbilgin/phone-notifier/internal/provider"
)

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrRecordNotFound), errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidCode), errors.Is(err, provider.ErrNotSupported):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, provider.ErrSubmissionFailed):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	case errors.Is(err, provider.ErrUnknownProvider):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}

func statusCode(err error) int {
	var fiberErr *fiber.Error
	if errors.As(toHTTPError(err), &fiberErr) {
		return fiberErr.Code
	}
	return fiber.StatusInternalServerError
}

func requestID(c *fiber.Ctx) string {
	if value, ok := c.Locals("requestid").(string); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
}

// requestContext carries the request id into services so their logs can be joined.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if id := requestID(c); id != "" {
		ctx = observability.WithRequestID(ctx, id)
	}
	return ctx
}
