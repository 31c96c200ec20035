package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/unitmon/unitmon/internal/config"
	"github.com/unitmon/unitmon/internal/initsys"
)

// Executor issues the configured recovery action with bounded retries.
// Every attempt is verified by a re-probe after a short stabilization
// delay; success means the unit was confirmed active, not merely that the
// init system accepted the request. Starting an already-running unit is a
// no-op that verifies as success.
type Executor struct {
	init      initsys.Init
	attempts  int
	delay     time.Duration
	stabilize time.Duration
	logger    *slog.Logger
}

func NewExecutor(init initsys.Init, cfg *config.Config, logger *slog.Logger) *Executor {
	attempts := cfg.RetryCount
	if attempts < 1 {
		attempts = 1
	}
	return &Executor{
		init:      init,
		attempts:  attempts,
		delay:     cfg.RetryDelay,
		stabilize: cfg.Init.StabilizeDelay,
		logger:    logger,
	}
}

// Execute runs up to the configured number of attempts and reports whether
// the unit ended up active. It stops on the first confirmed success.
func (e *Executor) Execute(ctx context.Context, unit string, action config.Action) bool {
	for attempt := 1; attempt <= e.attempts; attempt++ {
		var err error
		switch action {
		case config.ActionStart:
			err = e.init.Start(ctx, unit)
		default:
			err = e.init.Restart(ctx, unit)
		}
		if err != nil {
			e.logger.Warn("recovery action failed",
				slog.String("unit", unit),
				slog.String("action", string(action)),
				slog.Int("attempt", attempt),
				slog.Int("attempts", e.attempts),
				slog.Any("error", err))
		} else if e.stabilize > 0 {
			if sleepCtx(ctx, e.stabilize) != nil {
				return false
			}
		}
		up, perr := e.init.IsActive(ctx, unit)
		if perr != nil {
			e.logger.Warn("cannot verify unit after recovery attempt",
				slog.String("unit", unit),
				slog.Int("attempt", attempt),
				slog.Any("error", perr))
		}
		if up {
			if attempt > 1 || err != nil {
				e.logger.Info("unit recovered",
					slog.String("unit", unit),
					slog.String("action", string(action)),
					slog.Int("attempt", attempt))
			}
			return true
		}
		if attempt < e.attempts && e.delay > 0 {
			if sleepCtx(ctx, e.delay) != nil {
				return false
			}
		}
	}
	return false
}

// sleepCtx waits for d or until ctx is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
