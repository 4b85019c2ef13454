// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the retention queries used by the
// cleanup worker. They are the only place in the repo layer that looks past
// the soft-delete scope (via Unscoped), and the only place rows are ever
// hard-deleted.
//
// Every hard delete re-checks deleted_at inside the DELETE statement itself,
// not just at selection time, so a sweep cannot race destructively with a
// handler that resurrected or re-wrote a row between select and delete.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/handmotion/capture-backend/internal/domain"
)

// ExpiredSessions returns soft-deleted sessions whose retention window
// elapsed at or before cutoff. Full rows are returned because the caller
// needs the correlation id to derive object-store keys.
func ExpiredSessions(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]domain.Session, error) {
	var out []domain.Session
	err := db.WithContext(ctx).Unscoped().
		Where("deleted_at IS NOT NULL AND deleted_at <= ?", cutoff).
		Order("deleted_at asc").
		Find(&out).Error
	return out, err
}

// CountExpired counts soft-deleted rows of the given model older than cutoff.
func CountExpired(ctx context.Context, db *gorm.DB, model any, cutoff time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Unscoped().
		Model(model).
		Where("deleted_at IS NOT NULL AND deleted_at <= ?", cutoff).
		Count(&total).Error
	return total, err
}

// ExpiredIDs lists the primary keys of soft-deleted rows of the given model
// older than cutoff.
func ExpiredIDs(ctx context.Context, db *gorm.DB, model any, cutoff time.Time) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).Unscoped().
		Model(model).
		Where("deleted_at IS NOT NULL AND deleted_at <= ?", cutoff).
		Order("deleted_at asc").
		Pluck("id", &ids).Error
	return ids, err
}

// HardDeleteSession permanently removes one session row, re-checking the
// retention guard in the DELETE itself. Returns false when the row no longer
// qualifies (already purged, or its deleted_at changed since selection) —
// that is a no-op, not an error, so concurrent sweeps are idempotent.
func HardDeleteSession(ctx context.Context, db *gorm.DB, id string, cutoff time.Time) (bool, error) {
	res := db.WithContext(ctx).Unscoped().
		Where("id = ? AND deleted_at IS NOT NULL AND deleted_at <= ?", id, cutoff).
		Delete(&domain.Session{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// HardDeleteExpired bulk-purges soft-deleted rows of the given model older
// than cutoff and returns how many were removed. Used for the entity kinds
// that own no object-store payloads.
func HardDeleteExpired(ctx context.Context, db *gorm.DB, model any, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).Unscoped().
		Where("deleted_at IS NOT NULL AND deleted_at <= ?", cutoff).
		Delete(model)
	return res.RowsAffected, res.Error
}
