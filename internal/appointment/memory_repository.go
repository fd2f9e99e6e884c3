package appointment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository with the same test-and-set
// semantics as the Postgres one. It backs unit tests and local development
// without a database.
type MemoryRepository struct {
	mu           sync.Mutex
	patients     map[uuid.UUID]Patient
	clinicians   map[uuid.UUID]Clinician
	appointments map[uuid.UUID]*Appointment
	events       []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		patients:     make(map[uuid.UUID]Patient),
		clinicians:   make(map[uuid.UUID]Clinician),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func (r *MemoryRepository) AddPatient(p Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients[p.ID] = p
}

func (r *MemoryRepository) AddClinician(c Clinician) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clinicians[c.ID] = c
}

func (r *MemoryRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetClinicianByID(ctx context.Context, id uuid.UUID) (*Clinician, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clinicians[id]
	if !ok {
		return nil, ErrClinicianNotFound
	}
	return &c, nil
}

func (r *MemoryRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) GetAppointmentByRoomID(ctx context.Context, roomID string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appointments {
		if a.RoomID != nil && *a.RoomID == roomID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *MemoryRepository) FindActiveAppointmentForPatient(ctx context.Context, patientID uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appointments {
		if a.PatientID == patientID && a.Status != StatusCompleted {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *MemoryRepository) CreateAppointment(ctx context.Context, patientID, clinicianID uuid.UUID, scheduledAt time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	a := &Appointment{
		ID:          uuid.New(),
		PatientID:   patientID,
		ClinicianID: clinicianID,
		ScheduledAt: scheduledAt,
		Status:      StatusScheduled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.appointments[a.ID] = a

	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) StartAppointment(ctx context.Context, id, clinicianID uuid.UUID, roomID string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || a.ClinicianID != clinicianID || a.Status != StatusScheduled {
		return nil, ErrAppointmentNotFound
	}

	now := time.Now()
	a.Status = StatusStarted
	a.RoomID = &roomID
	a.StartedAt = &now
	a.UpdatedAt = now

	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) CompleteAppointment(ctx context.Context, id, clinicianID uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || a.ClinicianID != clinicianID || a.Status != StatusStarted {
		return nil, ErrAppointmentNotFound
	}

	a.Status = StatusCompleted
	a.UpdatedAt = time.Now()

	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) FindStaleStarted(ctx context.Context, startedBefore time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Appointment
	for _, a := range r.appointments {
		if a.Status == StatusStarted && a.StartedAt != nil && a.StartedAt.Before(startedBefore) {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (r *MemoryRepository) ReapStartedAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || a.Status != StatusStarted {
		return nil, ErrAppointmentNotFound
	}

	a.Status = StatusCompleted
	a.UpdatedAt = time.Now()

	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}
