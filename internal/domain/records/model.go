package records

import (
	"time"

	"github.com/google/uuid"
)

// Medical record kinds.
const (
	KindConsultation = "consultation"
	KindLab          = "lab"
	KindPrescription = "prescription"
	KindNote         = "note"
)

// Consent statuses.
const (
	ConsentGranted = "granted"
	ConsentRevoked = "revoked"
	ConsentExpired = "expired"
)

// MedicalRecord maps to the medical_records table in the tenant database.
type MedicalRecord struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	AppointmentID *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	Kind          string     `db:"kind" json:"kind"`
	Title         string     `db:"title" json:"title"`
	Body          string     `db:"body" json:"body"`
	AuthorID      string     `db:"author_id" json:"author_id"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Consent maps to the consents table in the tenant database.
type Consent struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	PatientID uuid.UUID  `db:"patient_id" json:"patient_id"`
	Scope     string     `db:"scope" json:"scope"`
	Status    string     `db:"status" json:"status"`
	GrantedAt time.Time  `db:"granted_at" json:"granted_at"`
	RevokedAt *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	ExpiresAt *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// EffectiveStatus accounts for an expiry date that has passed without
// the stored status having been updated.
func (c *Consent) EffectiveStatus(now time.Time) string {
	if c.Status == ConsentGranted && c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return ConsentExpired
	}
	return c.Status
}
