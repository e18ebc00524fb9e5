package scheduling

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

type mockRepo struct {
	appts map[uuid.UUID]*Appointment
}

func newMockRepo() *mockRepo {
	return &mockRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *mockRepo) Create(_ context.Context, a *Appointment) error {
	a.ID = uuid.New()
	m.appts[a.ID] = a
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := m.appts[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return a, nil
}

func (m *mockRepo) Update(_ context.Context, a *Appointment) error {
	cur, ok := m.appts[a.ID]
	if !ok {
		return fmt.Errorf("not found")
	}
	a.Status = cur.Status
	m.appts[a.ID] = a
	return nil
}

func (m *mockRepo) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	a, ok := m.appts[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	a.Status = status
	return nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var result []*Appointment
	for _, a := range m.appts {
		if a.PatientID == patientID {
			result = append(result, a)
		}
	}
	return result, len(result), nil
}

func (m *mockRepo) ListByRange(_ context.Context, from, to time.Time, limit, offset int) ([]*Appointment, int, error) {
	var result []*Appointment
	for _, a := range m.appts {
		if !from.IsZero() && a.StartTime.Before(from) {
			continue
		}
		if !to.IsZero() && !a.StartTime.Before(to) {
			continue
		}
		result = append(result, a)
	}
	return result, len(result), nil
}

func validAppointment() *Appointment {
	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	return &Appointment{
		PatientID:    uuid.New(),
		Practitioner: "Dr. Mendes",
		StartTime:    start,
		EndTime:      start.Add(30 * time.Minute),
	}
}

func TestCreate(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	a := validAppointment()
	if err := svc.Create(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if a.Status != StatusScheduled {
		t.Errorf("status = %q, want %q", a.Status, StatusScheduled)
	}
	if len(repo.appts) != 1 {
		t.Errorf("stored %d appointments, want 1", len(repo.appts))
	}
}

func TestCreate_Validation(t *testing.T) {
	svc := NewService(newMockRepo())

	tests := []struct {
		name   string
		mutate func(a *Appointment)
	}{
		{"missing patient", func(a *Appointment) { a.PatientID = uuid.Nil }},
		{"missing start", func(a *Appointment) { a.StartTime = time.Time{} }},
		{"missing end", func(a *Appointment) { a.EndTime = time.Time{} }},
		{"end before start", func(a *Appointment) { a.EndTime = a.StartTime.Add(-time.Hour) }},
		{"zero duration", func(a *Appointment) { a.EndTime = a.StartTime }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAppointment()
			tt.mutate(a)
			if err := svc.Create(context.Background(), a); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestUpdateStatus(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	a := validAppointment()
	if err := svc.Create(context.Background(), a); err != nil {
		t.Fatal(err)
	}

	if err := svc.UpdateStatus(context.Background(), a.ID, StatusConfirmed); err != nil {
		t.Fatal(err)
	}
	if err := svc.UpdateStatus(context.Background(), a.ID, StatusCompleted); err != nil {
		t.Fatal(err)
	}

	// completed is terminal
	if err := svc.UpdateStatus(context.Background(), a.ID, StatusCancelled); err == nil {
		t.Error("expected transition error from completed")
	}
}

func TestUpdateStatus_Invalid(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	a := validAppointment()
	if err := svc.Create(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if err := svc.UpdateStatus(context.Background(), a.ID, "waiting"); err == nil {
		t.Error("expected error for unknown status")
	}
	if err := svc.UpdateStatus(context.Background(), uuid.New(), StatusConfirmed); err == nil {
		t.Error("expected error for unknown appointment")
	}
}

func TestCancel(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	a := validAppointment()
	if err := svc.Create(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if err := svc.Cancel(context.Background(), a.ID); err != nil {
		t.Fatal(err)
	}
	if repo.appts[a.ID].Status != StatusCancelled {
		t.Errorf("status = %q, want %q", repo.appts[a.ID].Status, StatusCancelled)
	}

	// cancelling twice is rejected
	if err := svc.Cancel(context.Background(), a.ID); err == nil {
		t.Error("expected error cancelling a cancelled appointment")
	}
}

func TestUpdate_TerminalStatus(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	a := validAppointment()
	if err := svc.Create(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if err := svc.Cancel(context.Background(), a.ID); err != nil {
		t.Fatal(err)
	}

	a.Notes = strPtr("moved to next week")
	if err := svc.Update(context.Background(), a); err == nil {
		t.Error("expected error updating a cancelled appointment")
	}
}

func TestListByPatient(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	a := validAppointment()
	if err := svc.Create(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	other := validAppointment()
	if err := svc.Create(context.Background(), other); err != nil {
		t.Fatal(err)
	}

	items, total, err := svc.ListByPatient(context.Background(), a.PatientID, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(items) != 1 {
		t.Errorf("got %d items (total %d), want 1", len(items), total)
	}
}

func strPtr(s string) *string { return &s }
