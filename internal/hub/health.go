package hub

import (
	"fmt"
	"time"

	"MarketHub/internal/domain/models"
	"MarketHub/pkg/logger"
)

const (
	DefaultHeartbeatInterval      = 30 * time.Second
	DefaultStalenessCheckInterval = 10 * time.Second
	DefaultStalenessThreshold     = 60 * time.Second
)

// HealthConfig controls heartbeats and staleness detection.
type HealthConfig struct {
	HeartbeatInterval      time.Duration
	StalenessCheckInterval time.Duration
	StalenessThreshold     time.Duration
}

func (c HealthConfig) withDefaults() HealthConfig {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.StalenessCheckInterval <= 0 {
		c.StalenessCheckInterval = DefaultStalenessCheckInterval
	}
	if c.StalenessThreshold <= 0 {
		c.StalenessThreshold = DefaultStalenessThreshold
	}
	return c
}

// HealthMonitor keeps open feeds alive with heartbeats and recycles feeds that have
// gone quiet for longer than the staleness threshold.
type HealthMonitor struct {
	cfg      HealthConfig
	registry *Registry
	loop     *Loop
	now      func() time.Time
	logger   *logger.Logger

	heartbeat *Timer
	check     *Timer
}

func NewHealthMonitor(cfg HealthConfig, registry *Registry, loop *Loop, now func() time.Time, l *logger.Logger) *HealthMonitor {
	if now == nil {
		now = time.Now
	}
	if l == nil {
		l = logger.Nop()
	}
	return &HealthMonitor{
		cfg:      cfg.withDefaults(),
		registry: registry,
		loop:     loop,
		now:      now,
		logger:   l,
	}
}

// Start schedules heartbeat and staleness ticks on the loop.
func (h *HealthMonitor) Start() {
	h.Stop()
	h.heartbeat = h.loop.Every(h.cfg.HeartbeatInterval, func() { h.SendHeartbeats() })
	h.check = h.loop.Every(h.cfg.StalenessCheckInterval, func() { h.CheckStaleness() })
}

// Stop cancels both ticks.
func (h *HealthMonitor) Stop() {
	h.heartbeat.Stop()
	h.check.Stop()
	h.heartbeat, h.check = nil, nil
}

// SendHeartbeats sends the codec heartbeat on every open feed and returns how many were sent.
func (h *HealthMonitor) SendHeartbeats() int {
	n := h.registry.heartbeat()
	h.logger.Debug("heartbeats sent", logger.Int("count", n))
	return n
}

// CheckStaleness recycles every Connecting or Open feed that has shown no activity for
// longer than the threshold. Activity is the last message, or the last start or open
// when no message has arrived since. It returns the recycled feed names.
func (h *HealthMonitor) CheckStaleness() []string {
	now := h.now()
	var stale []string
	for _, conn := range h.registry.connections() {
		state, last := conn.activity()
		if state != models.StateConnecting && state != models.StateOpen {
			continue
		}
		idle := now.Sub(last)
		if idle <= h.cfg.StalenessThreshold {
			continue
		}
		reason := fmt.Errorf("no activity for %s", idle.Truncate(time.Millisecond))
		if conn.forceReconnect(reason) {
			stale = append(stale, conn.cfg.Name)
			h.logger.Warn("stale feed, reconnecting",
				logger.String("feed", conn.cfg.Name),
				logger.Duration("idle", idle),
				logger.Time("last_activity", last),
			)
		}
	}
	return stale
}
