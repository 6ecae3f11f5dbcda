package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
	"github.com/hackgods/clinic-appointment-booking/internal/config"
	"github.com/hackgods/clinic-appointment-booking/internal/db"
	"github.com/hackgods/clinic-appointment-booking/internal/logging"
	redisclient "github.com/hackgods/clinic-appointment-booking/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("dev", "info")
		boot.Fatal().Err(err).Msg("config load error")
	}

	log := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "noshow-worker").Logger()
	log.Info().Dur("interval", cfg.WorkerInterval).Dur("grace", cfg.NoShowGrace).
		Str("timezone", cfg.ClinicTimezone.String()).Msg("no-show worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PoolOptions("noshow-worker"))
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	// The sweep never changes which slots are occupied, so it does not take
	// the doctor day lock.
	svc := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		redisclient.NewLocalLocker(),
		appointment.WithLogger(log),
	)

	runOnce(rootCtx, log, svc, cfg)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping no-show worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, log, svc, cfg)
		}
	}
}

func runOnce(ctx context.Context, log zerolog.Logger, svc *appointment.Service, cfg config.Config) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	marked, err := svc.MarkNoShows(runCtx, cfg.NoShowGrace, cfg.ClinicTimezone)
	if err != nil {
		log.Error().Err(err).Msg("no-show run error")
		return
	}
	log.Info().Int("marked", marked).Dur("took", time.Since(start)).Msg("no-show run complete")
}
