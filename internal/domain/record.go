package domain

import (
	"fmt"
	"strings"
	"time"
)

// RecordKind distinguishes call attempts from SMS attempts.
type RecordKind string

const (
	KindCall RecordKind = "CALL"
	KindSMS  RecordKind = "SMS"
)

func (k RecordKind) String() string { return string(k) }

func (k RecordKind) IsValid() bool {
	switch k {
	case KindCall, KindSMS:
		return true
	}
	return false
}

func ParseKindFromString(s string) (RecordKind, error) {
	k := RecordKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid kind %q", ErrValidation, s)
	}
	return k, nil
}

// FailureReason explains why dispatch gave up on a record before the vendor accepted it.
type FailureReason string

const (
	FailureNotSupported     FailureReason = "not_supported"
	FailureSubmissionFailed FailureReason = "submission_failed"
)

// Content limits (in characters).
const (
	MaxSMSContent  = 1600
	MaxCallContent = 4000
)

// DeliveryRecord is one outbound call or SMS attempt and its canonical status.
type DeliveryRecord struct {
	ID                  string
	Kind                RecordKind
	TargetNumber        string
	ProviderAlias       string
	VendorCorrelationID string
	Status              Status
	VendorStatus        string
	FailureReason       *FailureReason
	CreatedAt           time.Time
	UpdatedAt           time.Time
	// LastPolledAt is when the status poller last queried the vendor, if ever.
	LastPolledAt *time.Time
}

// NewDeliveryRecord builds a record in the initial CREATED state.
func NewDeliveryRecord(id string, kind RecordKind, number string, providerAlias string, now time.Time) *DeliveryRecord {
	return &DeliveryRecord{
		ID:            id,
		Kind:          kind,
		TargetNumber:  number,
		ProviderAlias: providerAlias,
		Status:        StatusCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Submitted reports whether the vendor has accepted the attempt.
func (r *DeliveryRecord) Submitted() bool {
	return r != nil && r.VendorCorrelationID != ""
}

// AssignCorrelationID sets the vendor id once. Re-assigning the same id is a no-op.
func (r *DeliveryRecord) AssignCorrelationID(vendorID string) error {
	vendorID = strings.TrimSpace(vendorID)
	if vendorID == "" {
		return fmt.Errorf("%w: vendor correlation id is required", ErrValidation)
	}
	if r.VendorCorrelationID != "" && r.VendorCorrelationID != vendorID {
		return fmt.Errorf("%w: record %s already has correlation id %q", ErrConflict, r.ID, r.VendorCorrelationID)
	}
	r.VendorCorrelationID = vendorID
	return nil
}

func (r *DeliveryRecord) Validate() error {
	if !r.Kind.IsValid() {
		return fmt.Errorf("%w: invalid kind %q", ErrValidation, r.Kind)
	}
	if err := ValidateNumber(r.TargetNumber); err != nil {
		return err
	}
	if strings.TrimSpace(r.ProviderAlias) == "" {
		return fmt.Errorf("%w: provider alias is required", ErrValidation)
	}
	return nil
}

// ValidateContent checks rendered text against the per-kind limit.
func ValidateContent(kind RecordKind, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: text is required", ErrValidation)
	}

	contentLen := len([]rune(text))
	switch kind {
	case KindSMS:
		if contentLen > MaxSMSContent {
			return fmt.Errorf("%w: SMS content exceeds %d characters (got %d)", ErrValidation, MaxSMSContent, contentLen)
		}
	case KindCall:
		if contentLen > MaxCallContent {
			return fmt.Errorf("%w: call content exceeds %d characters (got %d)", ErrValidation, MaxCallContent, contentLen)
		}
	default:
		return fmt.Errorf("%w: invalid kind %q", ErrValidation, kind)
	}
	return nil
}

// ValidateNumber accepts E.164 numbers: a leading '+' and 8 to 15 digits.
func ValidateNumber(number string) error {
	if !strings.HasPrefix(number, "+") {
		return fmt.Errorf("%w: number %q must be in E.164 format", ErrValidation, number)
	}
	digits := number[1:]
	if len(digits) < 8 || len(digits) > 15 {
		return fmt.Errorf("%w: number %q must have 8 to 15 digits", ErrValidation, number)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: number %q contains non-digit characters", ErrValidation, number)
		}
	}
	return nil
}

// NormalizeNumber strips spaces, dashes and parentheses commonly typed by users.
func NormalizeNumber(number string) string {
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	return replacer.Replace(strings.TrimSpace(number))
}
