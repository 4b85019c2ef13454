// Package domain defines the persistence models for recording sessions and
// the clinical entities they reference. These types are mapped with GORM and
// form the core data layer of the capture backend.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Session is the aggregate root of the ingestion pipeline: one movement
// recording captured on a device and uploaded as two independent payloads
// (keypoints first, video whenever it lands). The row is mutated by the
// keypoints handler, the video handler, the analysis worker, the delete
// handler, and the cleanup worker; every status transition is applied as a
// compare-and-swap in the repo layer.
//
// Fields:
//   - ID: stable UUID primary key (char(36), server-assigned).
//   - CorrelationID: client-generated identifier, globally unique; the only
//     key the ingestion handlers look a session up by.
//   - ClinicianID / PatientID / ProtocolID: references to out-of-scope
//     entities; validated to exist and be non-deleted at creation time only.
//   - VideoPath / KeypointsPath / ReportPath: deterministic object-store keys
//     computed from CorrelationID at creation. The paths exist before the
//     bytes do; presence must be re-verified against the object store.
//   - Status: lifecycle state, see status.go.
//   - AnalysisProgress: 0–100, monotonically non-decreasing once a job runs.
//   - AnalysisError: last worker failure, nullable; does not by itself move
//     Status to a failure state.
//   - DeviceMeta: opaque JSON blob describing the capture device.
//   - Notes: free-form clinical notes.
//   - FrameRate: capture frame rate reported by the client.
//   - Measurements: JSON-encoded array of scalar readings produced by the
//     analysis job.
//   - DeletedAt: soft-delete marker; hides the row from ingestion/status
//     handlers but keeps it visible to the cleanup worker.
type Session struct {
	ID            string `json:"id"             gorm:"type:char(36);primaryKey"`
	CorrelationID string `json:"correlation_id" gorm:"type:varchar(128);not null;uniqueIndex:ux_sessions_correlation"`

	ClinicianID string `json:"clinician_id" gorm:"type:char(36);index"`
	PatientID   string `json:"patient_id"   gorm:"type:char(36);not null;index:idx_patient_sessions"`
	ProtocolID  string `json:"protocol_id"  gorm:"type:char(36);index"`

	VideoPath     string `json:"video_path"     gorm:"type:varchar(512);not null"`
	KeypointsPath string `json:"keypoints_path" gorm:"type:varchar(512);not null"`
	ReportPath    string `json:"report_path"    gorm:"type:varchar(512);not null"`

	Status           Status  `json:"status"            gorm:"type:varchar(32);not null;index"`
	AnalysisProgress int     `json:"analysis_progress" gorm:"not null;default:0"`
	AnalysisError    *string `json:"analysis_error,omitempty" gorm:"type:text"`

	DeviceMeta   string  `json:"device_meta,omitempty" gorm:"type:text"`
	Notes        string  `json:"notes,omitempty"       gorm:"type:text"`
	FrameRate    float64 `json:"frame_rate,omitempty"`
	Measurements string  `json:"measurements,omitempty" gorm:"type:text"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string { return "sessions" }

// Patient is the subject of a recording. Only existence and soft-delete
// state matter to this subsystem; the CRUD surface lives elsewhere.
type Patient struct {
	ID          string         `json:"id"           gorm:"type:char(36);primaryKey"`
	ExternalRef string         `json:"external_ref" gorm:"type:varchar(64);index"`
	Name        string         `json:"name"         gorm:"type:varchar(255);not null"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for Patient.
func (Patient) TableName() string { return "patients" }

// Protocol names the movement protocol a session was recorded under.
type Protocol struct {
	ID        string         `json:"id"    gorm:"type:char(36);primaryKey"`
	Name      string         `json:"name"  gorm:"type:varchar(255);not null"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for Protocol.
func (Protocol) TableName() string { return "protocols" }

// Clinician owns sessions. Auth is out of scope; the row exists so the
// ownership reference resolves and so the cleanup worker can sweep it.
type Clinician struct {
	ID        string         `json:"id"    gorm:"type:char(36);primaryKey"`
	Email     string         `json:"email" gorm:"type:varchar(255);uniqueIndex"`
	FullName  string         `json:"full_name" gorm:"type:varchar(255)"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for Clinician.
func (Clinician) TableName() string { return "clinicians" }
