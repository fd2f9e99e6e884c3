package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrClinicianNotFound   = errors.New("clinician not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository contains all DB interactions needed by the service.
//
// StartAppointment and CompleteAppointment are single conditional updates
// (test-and-set on status plus clinician ownership); when the condition does
// not hold they affect zero rows and report ErrAppointmentNotFound, which the
// service deliberately collapses into ErrConflict.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetClinicianByID(ctx context.Context, id uuid.UUID) (*Clinician, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentByRoomID(ctx context.Context, roomID string) (*Appointment, error)

	// For the one-live-appointment-per-patient check at booking time
	FindActiveAppointmentForPatient(ctx context.Context, patientID uuid.UUID) (*Appointment, error)

	CreateAppointment(ctx context.Context, patientID, clinicianID uuid.UUID, scheduledAt time.Time) (*Appointment, error)

	// Conditional transitions
	StartAppointment(ctx context.Context, id, clinicianID uuid.UUID, roomID string) (*Appointment, error)
	CompleteAppointment(ctx context.Context, id, clinicianID uuid.UUID) (*Appointment, error)

	// Session reaper
	FindStaleStarted(ctx context.Context, startedBefore time.Time) ([]Appointment, error)
	ReapStartedAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
