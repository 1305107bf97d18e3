package escalation

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"taller-core/config"
)

// Sweeper drives time-based tier advancement. Cadence comes from config (a
// cron spec), not a hard-coded constant; each sweep is idempotent per
// incident per period because only notifications older than the tier
// interval advance.
type Sweeper struct {
	escalator *Escalator
	cfg       config.EscalationConfig
	logger    zerolog.Logger
	cron      *cron.Cron
}

func NewSweeper(cfg config.EscalationConfig, escalator *Escalator, logger zerolog.Logger) *Sweeper {
	return &Sweeper{escalator: escalator, cfg: cfg, logger: logger}
}

func (s *Sweeper) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.SweepSpec, s.Sweep); err != nil {
		return err
	}
	s.cron = c
	c.Start()
	s.logger.Info().Str("spec", s.cfg.SweepSpec).Dur("tier_interval", s.cfg.TierInterval).Msg("escalation sweeper started")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep advances every notifiable incident whose latest notification has
// gone unanswered for longer than the tier interval.
func (s *Sweeper) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	due, err := s.escalator.notifications.ListUnresponded(ctx, notifiableStates())
	if err != nil {
		s.logger.Error().Err(err).Msg("escalation sweep query failed")
		return
	}
	cutoff := time.Now().UTC().Add(-s.cfg.TierInterval)
	advanced := 0
	for _, rec := range due {
		if rec.SentAt.After(cutoff) {
			continue
		}
		if _, err := s.escalator.RecordNotification(ctx, rec.IncidentID); err != nil {
			s.logger.Error().Err(err).Int64("incident", rec.IncidentID).Msg("escalation advance failed")
			continue
		}
		advanced++
	}
	if advanced > 0 {
		s.logger.Info().Int("advanced", advanced).Msg("escalation sweep complete")
	}
}
