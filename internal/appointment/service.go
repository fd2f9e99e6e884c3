package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/medloop/telecall/internal/config"
	"github.com/medloop/telecall/internal/idgen"
	redisclient "github.com/medloop/telecall/internal/redis"
)

const (
	EventAppointmentBooked = "APPOINTMENT_BOOKED"
	EventSessionStarted    = "SESSION_STARTED"
	EventSessionCompleted  = "SESSION_COMPLETED"
	EventSessionReaped     = "SESSION_REAPED"
)

var (
	// ErrConflict is returned for every failed start/complete transition.
	// A losing caller cannot tell "already started" from "already completed"
	// from "not yours"; the conditional update collapses them all.
	ErrConflict = errors.New("appointment is not in a state that allows this transition")

	// ErrNotAuthorized means the requester is not a participant of the
	// appointment. Terminal for the request, no retry.
	ErrNotAuthorized = errors.New("not a participant of this appointment")

	ErrPatientBusy       = errors.New("patient already has a live appointment")
	ErrBookingInProgress = errors.New("a booking for this patient is in flight, please retry")
)

// RoomDestroyer tears down the in-memory room backing a completed
// appointment. Destroy must be idempotent and safe when nobody is connected.
type RoomDestroyer interface {
	Destroy(roomID string)
}

type Service struct {
	repo   Repository
	locker redisclient.Locker
	rooms  RoomDestroyer
	cfg    config.Config
}

// NewService wires the appointment state machine. rooms may be nil in
// processes that have no live relay (the reaper binary).
func NewService(repo Repository, locker redisclient.Locker, rooms RoomDestroyer, cfg config.Config) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		rooms:  rooms,
		cfg:    cfg,
	}
}

// Book creates a scheduled appointment. A per-patient distributed lock plus
// an in-lock re-check keeps a patient from holding two live appointments when
// two booking requests race.
func (s *Service) Book(ctx context.Context, patientID, clinicianID uuid.UUID, scheduledAt time.Time) (*Appointment, error) {
	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	if _, err := s.repo.GetClinicianByID(ctx, clinicianID); err != nil {
		if errors.Is(err, ErrClinicianNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load clinician: %w", err)
	}

	var created *Appointment

	err := s.locker.WithPatientLock(ctx, patientID, func(lockCtx context.Context) error {
		existing, err := s.repo.FindActiveAppointmentForPatient(lockCtx, patientID)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check live appointment: %w", err)
		}
		if existing != nil {
			return ErrPatientBusy
		}

		appt, err := s.repo.CreateAppointment(lockCtx, patientID, clinicianID, scheduledAt)
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		created = appt

		s.logEvent(lockCtx, appt.ID, EventAppointmentBooked, map[string]any{
			"patient_id":   patientID.String(),
			"clinician_id": clinicianID.String(),
			"scheduled_at": scheduledAt,
		})

		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrBookingInProgress
		}
		return nil, err
	}

	return created, nil
}

// RequestStart moves a scheduled appointment to started and returns the
// freshly minted room token. The precondition check (exists, owned by the
// requesting clinician, still scheduled) and the room assignment happen in a
// single conditional update, so of N concurrent callers exactly one wins.
func (s *Service) RequestStart(ctx context.Context, appointmentID, clinicianID uuid.UUID) (string, error) {
	roomID, err := idgen.NewRoomToken()
	if err != nil {
		return "", fmt.Errorf("mint room token: %w", err)
	}

	appt, err := s.repo.StartAppointment(ctx, appointmentID, clinicianID, roomID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return "", ErrConflict
		}
		return "", fmt.Errorf("start appointment: %w", err)
	}

	s.logEvent(ctx, appt.ID, EventSessionStarted, map[string]any{
		"room_id": roomID,
	})

	return roomID, nil
}

// RequestComplete moves a started appointment to completed and tears down
// its room before returning. Tearing down an already-empty or already-gone
// room is a no-op.
func (s *Service) RequestComplete(ctx context.Context, appointmentID, clinicianID uuid.UUID) error {
	appt, err := s.repo.CompleteAppointment(ctx, appointmentID, clinicianID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return ErrConflict
		}
		return fmt.Errorf("complete appointment: %w", err)
	}

	if s.rooms != nil && appt.RoomID != nil {
		s.rooms.Destroy(*appt.RoomID)
	}

	s.logEvent(ctx, appt.ID, EventSessionCompleted, map[string]any{})

	return nil
}

// LookupActiveSession returns the status and room token of an appointment,
// but only to one of its two participants.
func (s *Service) LookupActiveSession(ctx context.Context, appointmentID, requesterID uuid.UUID, role Role) (*SessionView, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if !isParticipant(appt, requesterID, role) {
		return nil, ErrNotAuthorized
	}

	return &SessionView{
		Status: appt.Status,
		RoomID: appt.RoomID,
	}, nil
}

// AuthorizeJoin resolves a claimed room token to its backing appointment and
// verifies the connecting identity really is that appointment's participant
// for the claimed role. Joining is only legal while the call is live.
func (s *Service) AuthorizeJoin(ctx context.Context, roomID string, userID uuid.UUID, role Role) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByRoomID(ctx, roomID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrNotAuthorized
		}
		return nil, fmt.Errorf("load appointment by room: %w", err)
	}

	if !isParticipant(appt, userID, role) {
		return nil, ErrNotAuthorized
	}

	if appt.Status != StatusStarted {
		return nil, ErrConflict
	}

	return appt, nil
}

// ReapStaleSessions force-completes appointments that have been started for
// longer than the configured TTL. Intended to be called periodically by the
// reaper worker.
func (s *Service) ReapStaleSessions(ctx context.Context) error {
	cutoff := time.Now().Add(-s.cfg.StaleSessionTTL)

	stale, err := s.repo.FindStaleStarted(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("find stale started appointments: %w", err)
	}

	for _, appt := range stale {
		reaped, err := s.repo.ReapStartedAppointment(ctx, appt.ID)
		if err != nil {
			if !errors.Is(err, ErrAppointmentNotFound) {
				log.Printf("failed to reap appointment %s: %v", appt.ID, err)
			}
			continue
		}

		if s.rooms != nil && reaped.RoomID != nil {
			s.rooms.Destroy(*reaped.RoomID)
		}

		s.logEvent(ctx, appt.ID, EventSessionReaped, map[string]any{
			"started_at": appt.StartedAt,
		})
	}

	return nil
}

func isParticipant(appt *Appointment, userID uuid.UUID, role Role) bool {
	switch role {
	case RolePatient:
		return appt.PatientID == userID
	case RoleClinician:
		return appt.ClinicianID == userID
	default:
		return false
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s for appointment %s: %v", eventType, appointmentID, err)
	}
}
