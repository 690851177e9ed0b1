package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/entitlements-backend/pkg/cache"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

const (
	HeartbeatJobName = "heartbeat"
	HeartbeatKey     = "health:check"

	defaultHeartbeatTTL = 60 * time.Second
)

// Heartbeat is the value written on every beat.
type Heartbeat struct {
	Timestamp time.Time `json:"timestamp"`
}

// HeartbeatJobParams configures the liveness heartbeat.
type HeartbeatJobParams struct {
	Logger *logger.Logger
	Cache  cache.Cache
	TTL    time.Duration
	Now    func() time.Time
}

// NewHeartbeatJob builds the job that refreshes the health:check key. It
// never touches subscription state.
func NewHeartbeatJob(params HeartbeatJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Cache == nil {
		return nil, fmt.Errorf("cache required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultHeartbeatTTL
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &heartbeatJob{logg: params.Logger, cache: params.Cache, ttl: ttl, now: now}, nil
}

type heartbeatJob struct {
	logg  *logger.Logger
	cache cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

func (j *heartbeatJob) Name() string { return HeartbeatJobName }

func (j *heartbeatJob) Run(ctx context.Context) error {
	beat := Heartbeat{Timestamp: j.now().UTC()}
	if err := cache.SetJSON(ctx, j.cache, HeartbeatKey, beat, j.ttl); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	j.logg.Debug(j.logg.WithField(ctx, "timestamp", beat.Timestamp), "heartbeat written")
	return nil
}
