package repository

import (
	"time"

	"github.com/kursadbilgin/phone-notifier/internal/domain"
)

// DeliveryRecordModel is the persistence model for the delivery_records table.
type DeliveryRecordModel struct {
	ID                  string                `gorm:"type:uuid;primaryKey"`
	Kind                domain.RecordKind     `gorm:"type:varchar(10);not null"`
	TargetNumber        string                `gorm:"type:varchar(20);not null"`
	ProviderAlias       string                `gorm:"type:varchar(50);not null"`
	VendorCorrelationID *string               `gorm:"type:varchar(255)"`
	Status              domain.Status         `gorm:"type:varchar(20);not null"`
	VendorStatus        *string               `gorm:"type:varchar(50)"`
	FailureReason       *domain.FailureReason `gorm:"type:varchar(30)"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
	LastPolledAt        *time.Time
}

func (DeliveryRecordModel) TableName() string {
	return "delivery_records"
}

// StatusEventModel is the persistence model for status_events.
type StatusEventModel struct {
	ID              string              `gorm:"type:uuid;primaryKey"`
	RecordID        string              `gorm:"type:uuid;not null"`
	VendorStatus    string              `gorm:"type:varchar(50);not null"`
	CanonicalStatus domain.Status       `gorm:"type:varchar(20);not null"`
	PreviousStatus  domain.Status       `gorm:"type:varchar(20);not null"`
	Outcome         domain.EventOutcome `gorm:"type:varchar(30);not null"`
	CreatedAt       time.Time
}

func (StatusEventModel) TableName() string {
	return "status_events"
}

func recordModelFromDomain(r *domain.DeliveryRecord) *DeliveryRecordModel {
	if r == nil {
		return nil
	}

	return &DeliveryRecordModel{
		ID:                  r.ID,
		Kind:                r.Kind,
		TargetNumber:        r.TargetNumber,
		ProviderAlias:       r.ProviderAlias,
		VendorCorrelationID: optionalString(r.VendorCorrelationID),
		Status:              r.Status,
		VendorStatus:        optionalString(r.VendorStatus),
		FailureReason:       r.FailureReason,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
		LastPolledAt:        r.LastPolledAt,
	}
}

func recordModelToDomain(m *DeliveryRecordModel) *domain.DeliveryRecord {
	if m == nil {
		return nil
	}

	return &domain.DeliveryRecord{
		ID:                  m.ID,
		Kind:                m.Kind,
		TargetNumber:        m.TargetNumber,
		ProviderAlias:       m.ProviderAlias,
		VendorCorrelationID: derefString(m.VendorCorrelationID),
		Status:              m.Status,
		VendorStatus:        derefString(m.VendorStatus),
		FailureReason:       m.FailureReason,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
		LastPolledAt:        m.LastPolledAt,
	}
}

func eventModelFromDomain(e *domain.StatusEvent) *StatusEventModel {
	if e == nil {
		return nil
	}

	return &StatusEventModel{
		ID:              e.ID,
		RecordID:        e.RecordID,
		VendorStatus:    e.VendorStatus,
		CanonicalStatus: e.CanonicalStatus,
		PreviousStatus:  e.PreviousStatus,
		Outcome:         e.Outcome,
		CreatedAt:       e.CreatedAt,
	}
}

func eventModelToDomain(m *StatusEventModel) *domain.StatusEvent {
	if m == nil {
		return nil
	}

	return &domain.StatusEvent{
		ID:              m.ID,
		RecordID:        m.RecordID,
		VendorStatus:    m.VendorStatus,
		CanonicalStatus: m.CanonicalStatus,
		PreviousStatus:  m.PreviousStatus,
		Outcome:         m.Outcome,
		CreatedAt:       m.CreatedAt,
	}
}

// Empty strings are stored as NULL so the (provider_alias, vendor_correlation_id)
// unique index ignores records that were never submitted.
func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
