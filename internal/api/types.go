package api

import (
	"time"

	"github.com/google/uuid"
)

type BookAppointmentRequest struct {
	PatientID   string    `json:"patient_id,omitempty"`
	ClinicianID string    `json:"clinician_id,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

type AppointmentResponse struct {
	ID          uuid.UUID `json:"id"`
	PatientID   uuid.UUID `json:"patient_id"`
	ClinicianID uuid.UUID `json:"clinician_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Status      string    `json:"status"`
	RoomID      *string   `json:"room_id,omitempty"`
}

type StartSessionResponse struct {
	RoomID string `json:"room_id"`
}

type ActiveSessionResponse struct {
	Status string  `json:"status"`
	RoomID *string `json:"room_id,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
