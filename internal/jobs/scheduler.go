package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"profscore/api/internal/ephemeral"
	"profscore/api/internal/repository"
)

// Scheduler runs the periodic hygiene tasks: sweeping expired ephemeral
// entries (CSRF tokens, sessions, lockout records) and clearing expired
// reset tokens in postgres.
type Scheduler struct {
	cron     *cron.Cron
	store    ephemeral.Store
	accounts *repository.AccountRepository
	log      zerolog.Logger
}

func NewScheduler(store ephemeral.Store, accounts *repository.AccountRepository, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		store:    store,
		accounts: accounts,
		log:      log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("0 * * * * *", s.sweepEphemeral); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("0 0 * * * *", s.clearExpiredResetTokens); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("scheduler stop timed out")
	}
}

func (s *Scheduler) sweepEphemeral() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.store.Sweep(ctx); err != nil {
		s.log.Error().Err(err).Msg("ephemeral sweep failed")
	}
}

func (s *Scheduler) clearExpiredResetTokens() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cleared, err := s.accounts.ClearExpiredResetTokens(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("clear expired reset tokens failed")
		return
	}
	if cleared > 0 {
		s.log.Info().Int64("cleared", cleared).Msg("expired reset tokens cleared")
	}
}
