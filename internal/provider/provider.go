package provider

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/phone-notifier/internal/domain"
)

// Provider is the outbound telephony port. Every capability is optional: an adapter
// that cannot do something returns ErrNotSupported, never ErrSubmissionFailed.
type Provider interface {
	MakeCall(ctx context.Context, number string, text string) (string, error)
	SendSMS(ctx context.Context, number string, text string) (string, error)
	SendVerificationSMS(ctx context.Context, number string) error
	MakeVerificationCall(ctx context.Context, number string) error
	// FinishVerification returns ok=false without an error when the code is wrong
	// or the challenge expired.
	FinishVerification(ctx context.Context, number string, code string) (verified string, ok bool, err error)
}

// NotificationCaller is implemented by adapters that attach the record identity to
// notification calls, e.g. as a status callback token.
type NotificationCaller interface {
	MakeNotificationCall(ctx context.Context, number string, text string, record *domain.DeliveryRecord) (string, error)
}

// NotificationSender is the SMS counterpart of NotificationCaller.
type NotificationSender interface {
	SendNotificationSMS(ctx context.Context, number string, text string, record *domain.DeliveryRecord) (string, error)
}

// StatusTranslator maps vendor status strings onto canonical statuses.
type StatusTranslator interface {
	TranslateStatus(kind domain.RecordKind, vendorStatus string) domain.Status
}

// StatusQuerier is implemented by adapters that can report an attempt's current
// vendor status on demand.
type StatusQuerier interface {
	FetchStatus(ctx context.Context, kind domain.RecordKind, vendorID string) (string, error)
}

// CallbackDecoder turns a vendor webhook body into a canonical callback.
type CallbackDecoder interface {
	DecodeCallback(kind domain.RecordKind, contentType string, body []byte) (domain.StatusCallback, error)
}

// NotificationCall places a notification call for record and stores the vendor id on it.
// Adapters without notification-specific logic fall back to MakeCall.
func NotificationCall(ctx context.Context, p Provider, number string, text string, record *domain.DeliveryRecord) error {
	if p == nil {
		return fmt.Errorf("provider is not initialized")
	}

	var (
		vendorID string
		err      error
	)
	if caller, ok := p.(NotificationCaller); ok {
		vendorID, err = caller.MakeNotificationCall(ctx, number, text, record)
	} else {
		vendorID, err = p.MakeCall(ctx, number, text)
	}
	if err != nil {
		return err
	}

	return assignVendorID(record, vendorID)
}

// NotificationSMS sends a notification SMS for record and stores the vendor id on it.
func NotificationSMS(ctx context.Context, p Provider, number string, text string, record *domain.DeliveryRecord) error {
	if p == nil {
		return fmt.Errorf("provider is not initialized")
	}

	var (
		vendorID string
		err      error
	)
	if sender, ok := p.(NotificationSender); ok {
		vendorID, err = sender.SendNotificationSMS(ctx, number, text, record)
	} else {
		vendorID, err = p.SendSMS(ctx, number, text)
	}
	if err != nil {
		return err
	}

	return assignVendorID(record, vendorID)
}

func assignVendorID(record *domain.DeliveryRecord, vendorID string) error {
	if record == nil {
		return nil
	}
	if err := record.AssignCorrelationID(vendorID); err != nil {
		return &SubmissionError{Message: "vendor returned no usable correlation id", Cause: err}
	}
	return nil
}

// Unimplemented is embedded by adapters; every capability reports ErrNotSupported
// until the adapter overrides it.
type Unimplemented struct{}

func (Unimplemented) MakeCall(context.Context, string, string) (string, error) {
	return "", ErrNotSupported
}

func (Unimplemented) SendSMS(context.Context, string, string) (string, error) {
	return "", ErrNotSupported
}

func (Unimplemented) SendVerificationSMS(context.Context, string) error {
	return ErrNotSupported
}

func (Unimplemented) MakeVerificationCall(context.Context, string) error {
	return ErrNotSupported
}

func (Unimplemented) FinishVerification(context.Context, string, string) (string, bool, error) {
	return "", false, ErrNotSupported
}
