package cron

import (
	"time"

	"github.com/angelmondragon/entitlements-backend/pkg/cache"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
	pkgredis "github.com/angelmondragon/entitlements-backend/pkg/redis"
)

const (
	ExpirySweepLockKey = "cron:expiry-sweep:lock"
	HeartbeatLockKey   = "cron:heartbeat:lock"
)

// ScheduleParams carries what every schedule shares. A nil Redis falls back
// to a process-local lock. A lease never expires before the schedule interval.
type ScheduleParams struct {
	Logger  *logger.Logger
	Redis   *pkgredis.Client
	Metrics *metrics.CronJobMetrics
	LockTTL time.Duration
}

func (p ScheduleParams) lock(key string, interval time.Duration) (Lock, error) {
	if p.Redis == nil {
		return &LocalLock{}, nil
	}
	return NewRedisLock(p.Redis, key, leaseTTL(p.LockTTL, interval))
}

func leaseTTL(ttl, interval time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return max(ttl, interval)
}

func (p ScheduleParams) service(name, lockKey string, interval time.Duration, jobs ...Job) (*Service, error) {
	registry, err := NewRegistry(jobs...)
	if err != nil {
		return nil, err
	}
	lock, err := p.lock(lockKey, interval)
	if err != nil {
		return nil, err
	}
	return NewService(ServiceParams{
		Name:     name,
		Logger:   p.Logger,
		Registry: registry,
		Lock:     lock,
		Metrics:  p.Metrics,
		Interval: interval,
	})
}

// NewExpirySweepService runs the expiry sweep every interval.
func NewExpirySweepService(p ScheduleParams, sweeper expirySweeper, interval time.Duration) (*Service, error) {
	job, err := NewExpirySweepJob(ExpirySweepJobParams{Logger: p.Logger, Sweeper: sweeper})
	if err != nil {
		return nil, err
	}
	return p.service(ExpirySweepJobName, ExpirySweepLockKey, interval, job)
}

// NewHeartbeatService writes the liveness key every interval.
func NewHeartbeatService(p ScheduleParams, backend cache.Cache, ttl, interval time.Duration) (*Service, error) {
	job, err := NewHeartbeatJob(HeartbeatJobParams{Logger: p.Logger, Cache: backend, TTL: ttl})
	if err != nil {
		return nil, err
	}
	return p.service(HeartbeatJobName, HeartbeatLockKey, interval, job)
}
