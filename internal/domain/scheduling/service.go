package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	appointments Repository
}

func NewService(appointments Repository) *Service {
	return &Service{appointments: appointments}
}

func (s *Service) Create(ctx context.Context, a *Appointment) error {
	if err := validateAppointment(a); err != nil {
		return err
	}
	a.Status = StatusScheduled
	return s.appointments.Create(ctx, a)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

// Update changes the time, practitioner and free-text fields of an
// appointment that has not reached a terminal status.
func (s *Service) Update(ctx context.Context, a *Appointment) error {
	if err := validateAppointment(a); err != nil {
		return err
	}
	current, err := s.appointments.GetByID(ctx, a.ID)
	if err != nil {
		return err
	}
	if current.Status == StatusCompleted || current.Status == StatusCancelled {
		return fmt.Errorf("appointment is %s and can no longer be modified", current.Status)
	}
	return s.appointments.Update(ctx, a)
}

func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	if _, ok := validTransitions[status]; !ok {
		return fmt.Errorf("invalid appointment status: %s", status)
	}
	current, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(current.Status, status) {
		return fmt.Errorf("cannot move appointment from %s to %s", current.Status, status)
	}
	return s.appointments.UpdateStatus(ctx, id, status)
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	return s.UpdateStatus(ctx, id, StatusCancelled)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.appointments.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListByRange(ctx context.Context, from, to time.Time, limit, offset int) ([]*Appointment, int, error) {
	return s.appointments.ListByRange(ctx, from, to, limit, offset)
}

func validateAppointment(a *Appointment) error {
	if a.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if a.StartTime.IsZero() || a.EndTime.IsZero() {
		return fmt.Errorf("start_time and end_time are required")
	}
	if !a.EndTime.After(a.StartTime) {
		return fmt.Errorf("end_time must be after start_time")
	}
	return nil
}
