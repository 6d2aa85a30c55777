package repository

import (
	"context"

	"github.com/kursadbilgin/phone-notifier/internal/domain"
	"gorm.io/gorm"
)

type StatusEventRepository interface {
	Create(ctx context.Context, e *domain.StatusEvent) error
	ListByRecordID(ctx context.Context, recordID string) ([]domain.StatusEvent, error)
}

type GormStatusEventRepo struct {
	db *gorm.DB
}

func NewGormStatusEventRepo(db *gorm.DB) *GormStatusEventRepo {
	return &GormStatusEventRepo{db: db}
}

func (r *GormStatusEventRepo) Create(ctx context.Context, e *domain.StatusEvent) error {
	model := eventModelFromDomain(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if e != nil {
		*e = *eventModelToDomain(model)
	}
	return nil
}

func (r *GormStatusEventRepo) ListByRecordID(ctx context.Context, recordID string) ([]domain.StatusEvent, error) {
	var models []StatusEventModel
	err := r.db.WithContext(ctx).
		Where("record_id = ?", recordID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	events := make([]domain.StatusEvent, 0, len(models))
	for i := range models {
		events = append(events, *eventModelToDomain(&models[i]))
	}

	return events, nil
}
