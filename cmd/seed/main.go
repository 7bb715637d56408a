package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TrixieAM/MyHubCares---90-sub003/internal/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL,
	role        TEXT NOT NULL,
	patient_id  BIGINT
);

CREATE TABLE IF NOT EXISTS facilities (
	id       BIGSERIAL PRIMARY KEY,
	name     TEXT NOT NULL,
	address  TEXT
);

CREATE TABLE IF NOT EXISTS appointments (
	id                BIGSERIAL PRIMARY KEY,
	patient_id        BIGINT NOT NULL,
	provider_id       BIGINT,
	facility_id       BIGINT NOT NULL REFERENCES facilities (id),
	scheduled_start   TIMESTAMPTZ NOT NULL,
	scheduled_end     TIMESTAMPTZ NOT NULL,
	duration_minutes  INT NOT NULL,
	appointment_type  TEXT NOT NULL,
	status            TEXT NOT NULL,
	reason            TEXT,
	notes             TEXT
);

CREATE INDEX IF NOT EXISTS idx_appointments_window
	ON appointments (facility_id, scheduled_start, scheduled_end);

CREATE TABLE IF NOT EXISTS notifications (
	message_id      TEXT PRIMARY KEY,
	user_id         BIGINT NOT NULL,
	subject         TEXT NOT NULL,
	body            TEXT NOT NULL,
	type            TEXT NOT NULL,
	appointment_id  BIGINT,
	decline_reason  TEXT,
	is_read         BOOLEAN NOT NULL DEFAULT FALSE,
	sent_at         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_user
	ON notifications (user_id, sent_at DESC);
`

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

	if _, err := pool.Exec(context.Background(), schema); err != nil {
		log.Fatalf("apply schema: %v", err)
	}
	log.Println("schema applied")

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedFacilities(context.Background(), pool, 3); err != nil {
		log.Fatalf("seed facilities: %v", err)
	}
	if err := seedPhysicians(context.Background(), pool, 10); err != nil {
		log.Fatalf("seed physicians: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 200); err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	log.Println("seed complete")
}

func seedFacilities(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d facilities", count)

	for i := 0; i < count; i++ {
		_, err := pool.Exec(ctx, `
			INSERT INTO facilities (name, address) VALUES ($1, $2)
		`, gofakeit.Company()+" Clinic", gofakeit.Street())
		if err != nil {
			return err
		}
	}

	log.Println("facilities seeded")
	return nil
}

func seedPhysicians(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d physicians", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		_, err := tx.Exec(ctx, `
			INSERT INTO users (name, role) VALUES ($1, 'physician')
		`, "Dr. "+gofakeit.Name())
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("physicians seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 100

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			// Each patient user owns a distinct patient record id.
			var userID int64
			err := tx.QueryRow(ctx, `
				INSERT INTO users (name, role) VALUES ($1, 'patient') RETURNING id
			`, gofakeit.Name()).Scan(&userID)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
			_, err = tx.Exec(ctx, `
				UPDATE users SET patient_id = $1 WHERE id = $2
			`, userID+100000, userID)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}
