package call

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lexhub-backend/internal/domain"
	"lexhub-backend/internal/signaling"
	"lexhub-backend/pkg/logger"
	"lexhub-backend/pkg/metrics"
)

// Janitor removes call records that were never answered and outlived their TTL
type Janitor struct {
	ch       signaling.Channel
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	log      *zap.Logger
}

// NewJanitor creates a janitor. ttl applies to records written without expiresAt.
func NewJanitor(ch signaling.Channel, ttl, interval time.Duration) *Janitor {
	return &Janitor{
		ch:       ch,
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
		log:      logger.Named("call-janitor"),
	}
}

// Sweep deletes every expired unanswered record and returns how many went
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	docs, err := j.ch.List(ctx, signaling.Collection(domain.CallsCollection))
	if err != nil {
		return 0, fmt.Errorf("failed to list call records: %w", err)
	}

	now := j.now()
	removed := 0
	for _, doc := range docs {
		rec := domain.ParseCallRecord(doc)
		if rec.Answer != nil {
			continue
		}
		deadline, ok := j.deadline(rec)
		if !ok || now.Before(deadline) {
			continue
		}
		if err := j.ch.Delete(ctx, doc.Path); err != nil {
			j.log.Warn("Failed to delete expired call record", zap.String("call_id", rec.ID), zap.Error(err))
			continue
		}
		removed++
		metrics.CallRecordsExpiredTotal.Inc()
	}

	if removed > 0 {
		j.log.Info("Expired call records removed", zap.Int("count", removed))
	}
	return removed, nil
}

func (j *Janitor) deadline(rec *domain.CallRecord) (time.Time, bool) {
	if !rec.ExpiresAt.IsZero() {
		return rec.ExpiresAt, true
	}
	if rec.Offer != nil && !rec.Offer.CreatedAt.IsZero() && j.ttl > 0 {
		return rec.Offer.CreatedAt.Add(j.ttl), true
	}
	return time.Time{}, false
}

// Run sweeps every interval until ctx ends
func (j *Janitor) Run(ctx context.Context) {
	if j.interval <= 0 {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.log.Info("Call janitor started", zap.Duration("interval", j.interval), zap.Duration("ttl", j.ttl))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Sweep(ctx); err != nil {
				j.log.Warn("Call janitor sweep failed", zap.Error(err))
			}
		}
	}
}
