package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/phone-notifier/internal/domain"
	"gorm.io/gorm"
)

// PendingParams selects submitted records awaiting a status poll. UpdatedBefore
// applies to both the last status change and the last poll.
type PendingParams struct {
	Kind            domain.RecordKind
	Statuses        []domain.Status
	ProviderAliases []string
	UpdatedBefore   time.Time
	Limit           int
}

type DeliveryRecordRepository interface {
	Create(ctx context.Context, r *domain.DeliveryRecord) error
	GetByID(ctx context.Context, id string) (*domain.DeliveryRecord, error)
	GetByVendorID(ctx context.Context, providerAlias string, vendorID string) (*domain.DeliveryRecord, error)
	SetVendorCorrelationID(ctx context.Context, id string, vendorID string) error
	UpdateStatus(ctx context.Context, id string, from domain.Status, to domain.Status, vendorStatus string) error
	MarkFailed(ctx context.Context, id string, reason domain.FailureReason) error
	ListPending(ctx context.Context, params PendingParams) ([]domain.DeliveryRecord, error)
	MarkPolled(ctx context.Context, id string, at time.Time) error
}

type GormDeliveryRecordRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormDeliveryRecordRepo(db *gorm.DB) *GormDeliveryRecordRepo {
	return &GormDeliveryRecordRepo{db: db, now: time.Now}
}

func (r *GormDeliveryRecordRepo) Create(ctx context.Context, record *domain.DeliveryRecord) error {
	model := recordModelFromDomain(record)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrConflict
		}
		return err
	}
	if record != nil {
		*record = *recordModelToDomain(model)
	}
	return nil
}

func (r *GormDeliveryRecordRepo) GetByID(ctx context.Context, id string) (*domain.DeliveryRecord, error) {
	var model DeliveryRecordModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return recordModelToDomain(&model), nil
}

func (r *GormDeliveryRecordRepo) GetByVendorID(ctx context.Context, providerAlias string, vendorID string) (*domain.DeliveryRecord, error) {
	var model DeliveryRecordModel
	err := r.db.WithContext(ctx).
		Where("provider_alias = ? AND vendor_correlation_id = ?", providerAlias, vendorID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return recordModelToDomain(&model), nil
}

// SetVendorCorrelationID stores the vendor id once. Writing the same id again succeeds;
// a different id is a conflict.
func (r *GormDeliveryRecordRepo) SetVendorCorrelationID(ctx context.Context, id string, vendorID string) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryRecordModel{}).
		Where("id = ? AND (vendor_correlation_id IS NULL OR vendor_correlation_id = ?)", id, vendorID).
		Updates(map[string]any{
			"vendor_correlation_id": vendorID,
			"updated_at":            r.now().UTC(),
		})
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return domain.ErrConflict
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.missingOrConflict(ctx, id)
	}
	return nil
}

// UpdateStatus is a compare-and-set: it applies only while the stored status is still from.
func (r *GormDeliveryRecordRepo) UpdateStatus(ctx context.Context, id string, from domain.Status, to domain.Status, vendorStatus string) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryRecordModel{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":        to,
			"vendor_status": optionalString(vendorStatus),
			"updated_at":    r.now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.missingOrConflict(ctx, id)
	}
	return nil
}

// MarkFailed fails a record that never reached the vendor.
func (r *GormDeliveryRecordRepo) MarkFailed(ctx context.Context, id string, reason domain.FailureReason) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryRecordModel{}).
		Where("id = ? AND status = ?", id, domain.StatusCreated).
		Updates(map[string]any{
			"status":         domain.StatusFailed,
			"failure_reason": reason,
			"updated_at":     r.now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.missingOrConflict(ctx, id)
	}
	return nil
}

func (r *GormDeliveryRecordRepo) ListPending(ctx context.Context, params PendingParams) ([]domain.DeliveryRecord, error) {
	limit := params.Limit
	if limit < 1 {
		limit = 100
	}

	query := r.db.WithContext(ctx).
		Where("kind = ? AND vendor_correlation_id IS NOT NULL", params.Kind)
	if len(params.Statuses) > 0 {
		query = query.Where("status IN ?", params.Statuses)
	}
	if len(params.ProviderAliases) > 0 {
		query = query.Where("provider_alias IN ?", params.ProviderAliases)
	}
	if !params.UpdatedBefore.IsZero() {
		query = query.Where("updated_at <= ? AND (last_polled_at IS NULL OR last_polled_at <= ?)",
			params.UpdatedBefore, params.UpdatedBefore)
	}

	var models []DeliveryRecordModel
	err := query.
		Order("COALESCE(last_polled_at, updated_at) ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]domain.DeliveryRecord, 0, len(models))
	for i := range models {
		records = append(records, *recordModelToDomain(&models[i]))
	}

	return records, nil
}

// MarkPolled stamps the poll time without touching updated_at, so a status
// change stays distinguishable from a poll that changed nothing.
func (r *GormDeliveryRecordRepo) MarkPolled(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryRecordModel{}).
		Where("id = ?", id).
		UpdateColumn("last_polled_at", at.UTC())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

func (r *GormDeliveryRecordRepo) missingOrConflict(ctx context.Context, id string) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&DeliveryRecordModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrRecordNotFound
	}
	return domain.ErrConflict
}
