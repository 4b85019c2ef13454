// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides lookups for the entities a session
// references. Their CRUD surfaces live outside this subsystem; ingestion only
// needs to resolve a reference to a live row.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/handmotion/capture-backend/internal/domain"
)

// GetPatient fetches a live patient by id, or ErrNotFound. Soft-deleted
// patients do not resolve.
func GetPatient(ctx context.Context, db *gorm.DB, id string) (*domain.Patient, error) {
	var p domain.Patient
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProtocol fetches a live protocol by id, or ErrNotFound.
func GetProtocol(ctx context.Context, db *gorm.DB, id string) (*domain.Protocol, error) {
	var p domain.Protocol
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetClinician fetches a live clinician by id, or ErrNotFound.
func GetClinician(ctx context.Context, db *gorm.DB, id string) (*domain.Clinician, error) {
	var c domain.Clinician
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}
