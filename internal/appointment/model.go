package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
)

// Role identifies which side of a call a participant is on.
type Role string

const (
	RolePatient   Role = "patient"
	RoleClinician Role = "clinician"
)

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Clinician struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Appointment is the durable record pairing one patient and one clinician.
// RoomID is assigned exactly once on the scheduled->started transition and is
// never cleared afterwards, so a completed appointment keeps its room token.
type Appointment struct {
	ID          uuid.UUID
	PatientID   uuid.UUID
	ClinicianID uuid.UUID
	ScheduledAt time.Time
	Status      Status
	RoomID      *string
	StartedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SessionView is what LookupActiveSession exposes to a participant.
type SessionView struct {
	Status Status
	RoomID *string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
