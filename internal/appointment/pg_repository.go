package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanClinician(row pgx.Row) (*Clinician, error) {
	var c Clinician
	var specialty *string

	err := row.Scan(
		&c.ID,
		&c.Name,
		&specialty,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicianNotFound
		}
		return nil, err
	}

	c.Specialty = specialty
	return &c, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var roomID *string
	var startedAt *time.Time

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ClinicianID,
		&a.ScheduledAt,
		&a.Status,
		&roomID,
		&startedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.RoomID = roomID
	a.StartedAt = startedAt
	return &a, nil
}

const appointmentColumns = `id, patient_id, clinician_id, scheduled_at, status, room_id, started_at, created_at, updated_at`

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetClinicianByID(ctx context.Context, id uuid.UUID) (*Clinician, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM clinicians
		WHERE id = $1
	`, id)
	return scanClinician(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByRoomID(ctx context.Context, roomID string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE room_id = $1
	`, roomID)
	return scanAppointment(row)
}

func (r *PgRepository) FindActiveAppointmentForPatient(ctx context.Context, patientID uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1 AND status <> 'completed'
		LIMIT 1
	`, patientID)
	return scanAppointment(row)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, patientID, clinicianID uuid.UUID, scheduledAt time.Time) (*Appointment, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, clinician_id, scheduled_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'scheduled', now(), now())
		RETURNING `+appointmentColumns+`
	`, id, patientID, clinicianID, scheduledAt)

	return scanAppointment(row)
}

// StartAppointment performs the scheduled->started transition and assigns the
// room token in one atomic statement. Zero rows affected means the
// appointment is missing, not owned by the clinician, or no longer scheduled;
// all of those surface as ErrAppointmentNotFound here.
func (r *PgRepository) StartAppointment(ctx context.Context, id, clinicianID uuid.UUID, roomID string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'started',
		    room_id = $3,
		    started_at = now(),
		    updated_at = now()
		WHERE id = $1
		  AND clinician_id = $2
		  AND status = 'scheduled'
		RETURNING `+appointmentColumns+`
	`, id, clinicianID, roomID)

	return scanAppointment(row)
}

func (r *PgRepository) CompleteAppointment(ctx context.Context, id, clinicianID uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'completed',
		    updated_at = now()
		WHERE id = $1
		  AND clinician_id = $2
		  AND status = 'started'
		RETURNING `+appointmentColumns+`
	`, id, clinicianID)

	return scanAppointment(row)
}

func (r *PgRepository) FindStaleStarted(ctx context.Context, startedBefore time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'started'
		  AND started_at IS NOT NULL
		  AND started_at < $1
	`, startedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) ReapStartedAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'completed',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'started'
		RETURNING `+appointmentColumns+`
	`, id)

	return scanAppointment(row)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	var appID *uuid.UUID
	if ev.AppointmentID != nil {
		appID = ev.AppointmentID
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, appID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
