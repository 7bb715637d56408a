package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/TrixieAM/MyHubCares---90-sub003/internal/appointment"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/config"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/db"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/logging"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/notification"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config load error: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logging.New(cfg.Env, "status-worker")
	log.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("status worker starting up")

	if cfg.PostgresDSN == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pool.Close()
	log.Info().Msg("connected to Postgres")

	store := server.NewPgStore(pool)

	// Run once at startup
	runOnce(rootCtx, store, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping status worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, store, log)
		}
	}
}

// runOnce applies the server-driven status transitions and records an
// in-app message for each affected patient.
func runOnce(ctx context.Context, store server.Store, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	transitions, err := store.SweepPastAppointments(runCtx, start)
	if err != nil {
		log.Error().Err(err).Msg("sweep error")
		return
	}

	for _, t := range transitions {
		notify(runCtx, store, log, t)
	}

	log.Info().Int("transitions", len(transitions)).Dur("took", time.Since(start)).Msg("sweep complete")
}

func notify(ctx context.Context, store server.Store, log zerolog.Logger, t server.Transition) {
	userID, err := store.UserIDForPatient(ctx, t.Appointment.PatientID)
	if err != nil {
		log.Warn().Err(err).Int64("patient_id", t.Appointment.PatientID).Msg("no portal user for patient")
		return
	}

	var subject, body string
	switch t.Appointment.Status {
	case appointment.StatusCompleted:
		subject = "Appointment Completed"
		body = fmt.Sprintf("Your %s appointment on %s has been marked completed.", t.Appointment.Type, t.Appointment.Day())
	case appointment.StatusNoShow:
		subject = "Missed Appointment"
		body = fmt.Sprintf("Your %s appointment on %s was recorded as a no-show. Please rebook.", t.Appointment.Type, t.Appointment.Day())
	default:
		return
	}

	env := notification.Envelope{
		Subject:       subject,
		Body:          body,
		Type:          "appointment",
		AppointmentID: &t.Appointment.ID,
	}
	if err := store.InsertNotification(ctx, userID, env); err != nil {
		log.Error().Err(err).Int64("appointment_id", t.Appointment.ID).Msg("insert notification")
	}
}
