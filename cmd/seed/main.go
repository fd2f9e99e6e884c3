package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medloop/telecall/internal/appointment"
	"github.com/medloop/telecall/internal/auth"
	"github.com/medloop/telecall/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	clinicians, err := seedClinicians(context.Background(), pool, 25)
	if err != nil {
		log.Fatalf("seed clinicians: %v", err)
	}
	patients, err := seedPatients(context.Background(), pool, 200)
	if err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedAppointments(context.Background(), pool, patients, clinicians); err != nil {
		log.Fatalf("seed appointments: %v", err)
	}

	printDemoTokens(patients, clinicians)

	log.Println("seed complete")
}

func seedClinicians(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d clinicians", count)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO clinicians (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("clinicians seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d patients", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		email := gofakeit.Email()

		_, err := tx.Exec(ctx, `
			INSERT INTO patients (id, name, email, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, email)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("patients seeded")
	return ids, nil
}

// seedAppointments books one upcoming appointment per patient, round-robin
// across clinicians, honoring the one-live-appointment-per-patient rule.
func seedAppointments(ctx context.Context, pool *pgxpool.Pool, patients, clinicians []uuid.UUID) error {
	log.Printf("seeding %d appointments", len(patients))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i, patientID := range patients {
		clinicianID := clinicians[i%len(clinicians)]
		scheduledAt := time.Now().Add(time.Duration(gofakeit.Number(1, 72)) * time.Hour)

		_, err := tx.Exec(ctx, `
			INSERT INTO appointments (id, patient_id, clinician_id, scheduled_at, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 'scheduled', now(), now())
		`, uuid.New(), patientID, clinicianID, scheduledAt)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("appointments seeded")
	return nil
}

// printDemoTokens mints a pair of bearer tokens for the first seeded patient
// and clinician so a local stack is usable right after seeding.
func printDemoTokens(patients, clinicians []uuid.UUID) {
	secret := os.Getenv("TOKEN_SECRET")
	if secret == "" || len(patients) == 0 || len(clinicians) == 0 {
		return
	}

	gate := auth.NewTokenAuthenticator(secret)

	patientToken, err := gate.Mint(patients[0], appointment.RolePatient, 24*time.Hour)
	if err != nil {
		log.Printf("mint patient token: %v", err)
		return
	}
	clinicianToken, err := gate.Mint(clinicians[0], appointment.RoleClinician, 24*time.Hour)
	if err != nil {
		log.Printf("mint clinician token: %v", err)
		return
	}

	log.Printf("demo patient   %s token=%s", patients[0], patientToken)
	log.Printf("demo clinician %s token=%s", clinicians[0], clinicianToken)
}
