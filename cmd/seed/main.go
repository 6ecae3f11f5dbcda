package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
	"github.com/hackgods/clinic-appointment-booking/internal/config"
	"github.com/hackgods/clinic-appointment-booking/internal/db"
	"github.com/hackgods/clinic-appointment-booking/internal/logging"
	redisclient "github.com/hackgods/clinic-appointment-booking/internal/redis"
	"github.com/hackgods/clinic-appointment-booking/internal/slot"
)

const (
	doctorCount   = 20
	patientCount  = 500
	days          = 14
	bookingsPerDr = 12
)

var reasons = []string{
	"Annual checkup",
	"Follow-up visit",
	"Vaccination",
	"Blood test review",
	"Skin rash",
	"Back pain",
	"Prescription renewal",
	"Allergy consultation",
	"Blood pressure check",
	"Post-surgery review",
}

var durations = []int{15, 30, 45, 60}

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("dev", "info")
		boot.Fatal().Err(err).Msg("config load error")
	}
	log := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "seed").Logger()
	log.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PoolOptions("seed"))
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool, log); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	gofakeit.Seed(time.Now().UnixNano())

	svc := appointment.NewService(appointment.NewPgRepository(pool), redisclient.NewLocalLocker(),
		appointment.WithPolicy(cfg.StatusPolicy))

	created, conflicts, err := seedAppointments(context.Background(), log, svc, time.Now().In(cfg.ClinicTimezone))
	if err != nil {
		log.Fatal().Err(err).Msg("seed appointments")
	}

	log.Info().Int("created", created).Int("conflicts_skipped", conflicts).Msg("seed complete")
}

func seedAppointments(ctx context.Context, log zerolog.Logger, svc *appointment.Service, today time.Time) (created, conflicts int, err error) {
	doctors := make([]string, doctorCount)
	for i := range doctors {
		doctors[i] = fmt.Sprintf("dr-%03d", i+1)
	}
	patients := make([]string, patientCount)
	for i := range patients {
		patients[i] = "pt-" + uuid.NewString()
	}
	staff := []string{gofakeit.Name(), gofakeit.Name(), gofakeit.Name()}

	log.Info().Int("doctors", len(doctors)).Int("days", days).Msg("seeding appointments")

	for d := 0; d < days; d++ {
		date := slot.Date(today.AddDate(0, 0, d).Format("2006-01-02"))

		for _, doctor := range doctors {
			for i := 0; i < bookingsPerDr; i++ {
				// quarter hours between 08:00 and 17:00
				start := slot.TimeOfDay(8*60 + 15*gofakeit.Number(0, 35))

				_, err := svc.Create(ctx, appointment.Draft{
					PatientID: patients[gofakeit.Number(0, len(patients)-1)],
					DoctorID:  doctor,
					Date:      date,
					Time:      start,
					Duration:  durations[gofakeit.Number(0, len(durations)-1)],
					Reason:    reasons[gofakeit.Number(0, len(reasons)-1)],
					Notes:     "Contact: " + gofakeit.Email(),
					CreatedBy: staff[gofakeit.Number(0, len(staff)-1)],
				})
				switch {
				case err == nil:
					created++
				case errors.Is(err, appointment.ErrConflict):
					conflicts++
				default:
					return created, conflicts, err
				}
			}
		}

		log.Info().Str("date", string(date)).Int("created", created).Msg("day seeded")
	}

	return created, conflicts, nil
}
