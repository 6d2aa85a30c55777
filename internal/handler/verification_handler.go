package handler

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/phone-notifier/internal/domain"
)

type VerificationService interface {
	Start(ctx context.Context, number string, method domain.VerificationMethod) error
	Finish(ctx context.Context, number string, code string) (string, error)
}

type VerificationHandler struct {
	service VerificationService
}

func NewVerificationHandler(service VerificationService) (*VerificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("verification service is required")
	}
	return &VerificationHandler{service: service}, nil
}

func RegisterVerificationRoutes(router fiber.Router, service VerificationService) error {
	h, err := NewVerificationHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/verifications", h.StartVerification)
	v1.Post("/verifications/confirm", h.ConfirmVerification)

	return nil
}

type startVerificationRequest struct {
	Number string `json:"number"`
	Method string `json:"method"`
}

type confirmVerificationRequest struct {
	Number string `json:"number"`
	Code   string `json:"code"`
}

func (h *VerificationHandler) StartVerification(c *fiber.Ctx) error {
	var req startVerificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	method := domain.VerificationBySMS
	if req.Method != "" {
		parsed, err := domain.ParseVerificationMethodFromString(req.Method)
		if err != nil {
			return toHTTPError(err)
		}
		method = parsed
	}

	if err := h.service.Start(requestContext(c), req.Number, method); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": domain.VerificationIssued.String(),
		"method": method.String(),
	})
}

func (h *VerificationHandler) ConfirmVerification(c *fiber.Ctx) error {
	var req confirmVerificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	number, err := h.service.Finish(requestContext(c), req.Number, req.Code)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"number": number,
		"status": domain.VerificationConfirmed.String(),
	})
}
