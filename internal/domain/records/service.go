package records

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	records  RecordRepository
	consents ConsentRepository
}

func NewService(records RecordRepository, consents ConsentRepository) *Service {
	return &Service{records: records, consents: consents}
}

var validRecordKinds = map[string]bool{
	KindConsultation: true, KindLab: true, KindPrescription: true, KindNote: true,
}

func (s *Service) CreateRecord(ctx context.Context, r *MedicalRecord) error {
	if r.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if !validRecordKinds[r.Kind] {
		return fmt.Errorf("invalid record kind: %s", r.Kind)
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if r.AuthorID == "" {
		return fmt.Errorf("author_id is required")
	}
	return s.records.Create(ctx, r)
}

func (s *Service) GetRecord(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	return s.records.GetByID(ctx, id)
}

func (s *Service) UpdateRecord(ctx context.Context, r *MedicalRecord) error {
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("title is required")
	}
	return s.records.Update(ctx, r)
}

func (s *Service) ListRecordsByPatient(ctx context.Context, patientID uuid.UUID, kind string, limit, offset int) ([]*MedicalRecord, int, error) {
	if kind != "" && !validRecordKinds[kind] {
		return nil, 0, fmt.Errorf("invalid record kind: %s", kind)
	}
	return s.records.ListByPatient(ctx, patientID, kind, limit, offset)
}

func (s *Service) GrantConsent(ctx context.Context, c *Consent) error {
	if c.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if strings.TrimSpace(c.Scope) == "" {
		return fmt.Errorf("scope is required")
	}
	if c.ExpiresAt != nil && !c.ExpiresAt.After(time.Now()) {
		return fmt.Errorf("expires_at must be in the future")
	}
	c.Status = ConsentGranted
	c.GrantedAt = time.Now()
	return s.consents.Create(ctx, c)
}

func (s *Service) RevokeConsent(ctx context.Context, id uuid.UUID) error {
	c, err := s.consents.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != ConsentGranted {
		return fmt.Errorf("consent is %s and cannot be revoked", c.Status)
	}
	return s.consents.UpdateStatus(ctx, id, ConsentRevoked)
}

func (s *Service) GetConsent(ctx context.Context, id uuid.UUID) (*Consent, error) {
	c, err := s.consents.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Status = c.EffectiveStatus(time.Now())
	return c, nil
}

func (s *Service) ListConsents(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Consent, int, error) {
	items, total, err := s.consents.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	now := time.Now()
	for _, c := range items {
		c.Status = c.EffectiveStatus(now)
	}
	return items, total, nil
}
