package service

import (
	"context"
	"log/slog"
	"time"

	"session_auth/internal/metrics"
	"session_auth/internal/storage"
)

// Reaper periodically deletes expired refresh tokens of all users.
type Reaper struct {
	Tokens   storage.TokenStorage
	Interval time.Duration
	Log      *slog.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Run blocks until ctx is done. A non-positive Interval disables it.
func (r *Reaper) Run(ctx context.Context) {
	const op = "service.Reaper.Run"

	log := r.logger().With(slog.String("op", op))

	if r.Interval <= 0 {
		log.Info("expiry reaper disabled")
		return
	}

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	log.Info("expiry reaper started", slog.Duration("interval", r.Interval))

	for {
		select {
		case <-ctx.Done():
			log.Info("expiry reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one purge pass and returns the number of deleted tokens.
func (r *Reaper) Sweep(ctx context.Context) int64 {
	const op = "service.Reaper.Sweep"

	log := r.logger().With(slog.String("op", op))

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	n, err := r.Tokens.PurgeAllExpired(ctx, now())
	if err != nil {
		log.Error("failed to purge expired refresh tokens", slog.Any("error", err))
		return 0
	}

	if n > 0 {
		log.Info("purged expired refresh tokens", slog.Int64("count", n))
	}
	r.Metrics.TokensPurged(int(n))

	return n
}

func (r *Reaper) logger() *slog.Logger {
	if r.Log == nil {
		return slog.Default()
	}
	return r.Log
}
