// Package services defines the business logic of the ingestion pipeline.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the
// handler layer.
package services

import (
	"errors"
	"fmt"

	"github.com/handmotion/capture-backend/internal/domain"
)

var (
	// ErrDuplicateSession indicates the correlation id is already taken.
	// Handlers surface it as a conflict together with the original session's
	// id and status (see DuplicateSessionError); a duplicate is never merged.
	ErrDuplicateSession = errors.New("session already exists for correlation id")

	// ErrSessionNotFound indicates no live session matches the given id or
	// correlation id. Video arriving before keypoints lands here.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionCancelled indicates the session was soft-deleted. Payloads
	// arriving for a cancelled session are rejected without touching state.
	ErrSessionCancelled = errors.New("session cancelled")

	// ErrSessionCompleted indicates a re-upload was attempted against a
	// finished session whose payload is already present.
	ErrSessionCompleted = errors.New("session already completed")

	// ErrPatientNotFound indicates the subject reference did not resolve to
	// a live patient.
	ErrPatientNotFound = errors.New("patient not found")

	// ErrProtocolNotFound indicates the protocol reference did not resolve.
	ErrProtocolNotFound = errors.New("protocol not found")

	// ErrMissingField is returned when a required request field is absent.
	ErrMissingField = errors.New("missing required field")

	// ErrStorageUnavailable indicates the object-store call failed during the
	// primary step of a handler, before anything durable happened.
	ErrStorageUnavailable = errors.New("object store unavailable")
)

// DuplicateSessionError carries the original session's identity so a conflict
// response can point the client at the row that won the race.
type DuplicateSessionError struct {
	SessionID string
	Status    domain.Status
}

// Error implements the error interface.
func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("session already exists (id=%s, status=%s)", e.SessionID, e.Status)
}

// Unwrap lets errors.Is(err, ErrDuplicateSession) succeed.
func (e *DuplicateSessionError) Unwrap() error { return ErrDuplicateSession }
