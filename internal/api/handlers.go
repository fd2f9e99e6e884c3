package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medloop/telecall/internal/appointment"
)

func bookAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "no authenticated identity")
			return
		}

		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if req.ScheduledAt.IsZero() {
			writeError(w, http.StatusBadRequest, "invalid_scheduled_at", "scheduled_at is required")
			return
		}

		// A patient books with a clinician; a clinician books for a patient.
		// Either way, one side of the pair is always the caller itself.
		var patientID, clinicianID uuid.UUID
		var err error
		switch identity.Role {
		case appointment.RolePatient:
			patientID = identity.ID
			clinicianID, err = uuid.Parse(req.ClinicianID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_clinician_id", "clinician_id must be a valid UUID")
				return
			}
		case appointment.RoleClinician:
			clinicianID = identity.ID
			patientID, err = uuid.Parse(req.PatientID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
		default:
			writeError(w, http.StatusForbidden, "invalid_role", "role cannot book appointments")
			return
		}

		appt, err := svc.Book(r.Context(), patientID, clinicianID, req.ScheduledAt)
		if err != nil {
			handleBookError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func startSessionHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "no authenticated identity")
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		// No role pre-check: the conditional update's ownership predicate
		// rejects anyone but the owning clinician, and the caller sees the
		// same conflict as any other failed precondition.
		roomID, err := svc.RequestStart(r.Context(), id, identity.ID)
		if err != nil {
			handleTransitionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, StartSessionResponse{RoomID: roomID})
	}
}

func completeSessionHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "no authenticated identity")
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		if err := svc.RequestComplete(r.Context(), id, identity.ID); err != nil {
			handleTransitionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": string(appointment.StatusCompleted)})
	}
}

func activeSessionHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "no authenticated identity")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		view, err := svc.LookupActiveSession(r.Context(), id, identity.ID, identity.Role)
		if err != nil {
			switch {
			case errors.Is(err, appointment.ErrAppointmentNotFound):
				writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
			case errors.Is(err, appointment.ErrNotAuthorized):
				writeError(w, http.StatusForbidden, "not_authorized", err.Error())
			default:
				writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			}
			return
		}

		writeJSON(w, http.StatusOK, ActiveSessionResponse{
			Status: string(view.Status),
			RoomID: view.RoomID,
		})
	}
}

func handleBookError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrClinicianNotFound):
		writeError(w, http.StatusNotFound, "clinician_not_found", err.Error())
	case errors.Is(err, appointment.ErrPatientBusy):
		writeError(w, http.StatusConflict, "patient_busy", err.Error())
	case errors.Is(err, appointment.ErrBookingInProgress):
		writeError(w, http.StatusConflict, "booking_in_progress", "a booking for this patient is already in flight, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// handleTransitionError maps every failed start/complete precondition to the
// same 409. Callers are told the transition cannot happen now, and nothing
// more.
func handleTransitionError(w http.ResponseWriter, err error) {
	if errors.Is(err, appointment.ErrConflict) {
		writeError(w, http.StatusConflict, "conflict", "the call cannot be changed right now")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
}

func toAppointmentResponse(appt *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          appt.ID,
		PatientID:   appt.PatientID,
		ClinicianID: appt.ClinicianID,
		ScheduledAt: appt.ScheduledAt,
		Status:      string(appt.Status),
		RoomID:      appt.RoomID,
	}
}
