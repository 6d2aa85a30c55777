package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/phone-notifier/internal/domain"
	"github.com/kursadbilgin/phone-notifier/internal/service"
)

type DispatchService interface {
	Notify(ctx context.Context, kind domain.RecordKind, number string, text string) (*domain.DeliveryRecord, error)
	SendTest(ctx context.Context, kind domain.RecordKind, number string) (*service.TestResult, error)
}

type RecordReader interface {
	GetByID(ctx context.Context, id string) (*domain.DeliveryRecord, error)
}

type EventReader interface {
	ListByRecordID(ctx context.Context, recordID string) ([]domain.StatusEvent, error)
}

type NotificationHandler struct {
	dispatch DispatchService
	records  RecordReader
	events   EventReader
}

func NewNotificationHandler(dispatch DispatchService, records RecordReader, events EventReader) (*NotificationHandler, error) {
	if dispatch == nil {
		return nil, fmt.Errorf("dispatch service is required")
	}
	if records == nil {
		return nil, fmt.Errorf("record reader is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event reader is required")
	}
	return &NotificationHandler{dispatch: dispatch, records: records, events: events}, nil
}

func RegisterNotificationRoutes(router fiber.Router, dispatch DispatchService, records RecordReader, events EventReader) error {
	h, err := NewNotificationHandler(dispatch, records, events)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.CreateNotification)
	v1.Post("/test", h.SendTest)
	v1.Get("/records/:id", h.GetRecord)
	v1.Get("/records/:id/events", h.ListEvents)

	return nil
}

type createNotificationRequest struct {
	Kind   string `json:"kind"`
	Number string `json:"number"`
	Text   string `json:"text"`
}

type testRequest struct {
	Kind   string `json:"kind"`
	Number string `json:"number"`
}

type recordResponse struct {
	ID                  string    `json:"id"`
	Kind                string    `json:"kind"`
	TargetNumber        string    `json:"targetNumber"`
	ProviderAlias       string    `json:"providerAlias"`
	VendorCorrelationID string    `json:"vendorCorrelationId,omitempty"`
	Status              string    `json:"status"`
	VendorStatus        string    `json:"vendorStatus,omitempty"`
	FailureReason       string    `json:"failureReason,omitempty"`
	Terminal            bool      `json:"terminal"`
	CreatedAt           time.Time `json:"createdAt,omitempty"`
	UpdatedAt           time.Time `json:"updatedAt,omitempty"`
}

type failedRecordResponse struct {
	Error  string         `json:"error"`
	Record recordResponse `json:"record"`
}

type testResponse struct {
	ProviderAlias       string `json:"providerAlias"`
	VendorCorrelationID string `json:"vendorCorrelationId"`
}

type eventResponse struct {
	ID              string    `json:"id"`
	VendorStatus    string    `json:"vendorStatus"`
	CanonicalStatus string    `json:"canonicalStatus"`
	PreviousStatus  string    `json:"previousStatus"`
	Outcome         string    `json:"outcome"`
	CreatedAt       time.Time `json:"createdAt"`
}

// CreateNotification submits a call or SMS. A failed submission still answers with the
// FAILED record so the caller can fall back to the other kind.
func (h *NotificationHandler) CreateNotification(c *fiber.Ctx) error {
	var req createNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	kind, err := domain.ParseKindFromString(req.Kind)
	if err != nil {
		return toHTTPError(err)
	}

	record, err := h.dispatch.Notify(requestContext(c), kind, req.Number, req.Text)
	if err != nil {
		if record == nil {
			return toHTTPError(err)
		}
		return c.Status(statusCode(err)).JSON(failedRecordResponse{
			Error:  err.Error(),
			Record: toRecordResponse(record),
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(toRecordResponse(record))
}

func (h *NotificationHandler) SendTest(c *fiber.Ctx) error {
	var req testRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	kind, err := domain.ParseKindFromString(req.Kind)
	if err != nil {
		return toHTTPError(err)
	}

	result, err := h.dispatch.SendTest(requestContext(c), kind, req.Number)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(testResponse{
		ProviderAlias:       result.ProviderAlias,
		VendorCorrelationID: result.VendorCorrelationID,
	})
}

func (h *NotificationHandler) GetRecord(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	record, err := h.records.GetByID(requestContext(c), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toRecordResponse(record))
}

func (h *NotificationHandler) ListEvents(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	ctx := requestContext(c)

	if _, err := h.records.GetByID(ctx, id); err != nil {
		return toHTTPError(err)
	}
	events, err := h.events.ListByRecordID(ctx, id)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]eventResponse, 0, len(events))
	for _, e := range events {
		data = append(data, eventResponse{
			ID:              e.ID,
			VendorStatus:    e.VendorStatus,
			CanonicalStatus: e.CanonicalStatus.String(),
			PreviousStatus:  e.PreviousStatus.String(),
			Outcome:         string(e.Outcome),
			CreatedAt:       e.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func toRecordResponse(r *domain.DeliveryRecord) recordResponse {
	if r == nil {
		return recordResponse{}
	}

	resp := recordResponse{
		ID:                  r.ID,
		Kind:                r.Kind.String(),
		TargetNumber:        r.TargetNumber,
		ProviderAlias:       r.ProviderAlias,
		VendorCorrelationID: r.VendorCorrelationID,
		Status:              r.Status.String(),
		VendorStatus:        r.VendorStatus,
		Terminal:            domain.IsTerminal(r.Kind, r.Status),
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if r.FailureReason != nil {
		resp.FailureReason = string(*r.FailureReason)
	}
	return resp
}
