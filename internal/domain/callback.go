package domain

import (
	"fmt"
	"strings"
	"time"
)

// StatusCallback is a vendor status event normalised by the adapter's decoder.
// RecordID is set when the adapter attached the record identity to the outbound request.
type StatusCallback struct {
	ProviderAlias       string            `json:"providerAlias"`
	Kind                RecordKind        `json:"kind"`
	RecordID            string            `json:"recordId,omitempty"`
	VendorCorrelationID string            `json:"vendorCorrelationId"`
	VendorStatus        string            `json:"vendorStatus"`
	Payload             map[string]string `json:"payload,omitempty"`
}

func (c StatusCallback) Validate() error {
	if strings.TrimSpace(c.ProviderAlias) == "" {
		return fmt.Errorf("%w: provider alias is required", ErrValidation)
	}
	if !c.Kind.IsValid() {
		return fmt.Errorf("%w: invalid kind %q", ErrValidation, c.Kind)
	}
	if strings.TrimSpace(c.VendorCorrelationID) == "" && strings.TrimSpace(c.RecordID) == "" {
		return fmt.Errorf("%w: vendor correlation id is required", ErrValidation)
	}
	if strings.TrimSpace(c.VendorStatus) == "" {
		return fmt.Errorf("%w: vendor status is required", ErrValidation)
	}
	return nil
}

// EventOutcome is what reconciling one callback did to its record.
type EventOutcome string

const (
	OutcomeApplied           EventOutcome = "applied"
	OutcomeDuplicate         EventOutcome = "duplicate"
	OutcomeIllegalTransition EventOutcome = "illegal_transition"
)

// StatusEvent is the audit entry written for every reconciled callback.
type StatusEvent struct {
	ID              string
	RecordID        string
	VendorStatus    string
	CanonicalStatus Status
	PreviousStatus  Status
	Outcome         EventOutcome
	CreatedAt       time.Time
}
