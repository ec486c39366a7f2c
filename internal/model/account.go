package model

import "time"

const (
	StatusActive = "active"
	StatusPaused = "paused"
)

// WarmupAccount is an account whose sending reputation is being built up.
// Owned by the account store; the scheduler only reads the progression
// fields and writes status and warmup day.
type WarmupAccount struct {
	Email          string
	Status         string
	WarmupDay      int
	StartVolume    int
	DailyIncrease  int
	MaxVolume      int
	Organizational bool
	TenantID       string
	Provider       string
	Connected      bool
	CreatedAt      time.Time
}

// TargetVolume is today's send target: linear ramp from StartVolume by
// DailyIncrease per warmup day, floored at 1, capped at MaxVolume.
func (a *WarmupAccount) TargetVolume() int {
	volume := a.StartVolume + a.DailyIncrease*a.WarmupDay
	if volume < 1 {
		volume = 1
	}
	if a.MaxVolume > 0 && volume > a.MaxVolume {
		volume = a.MaxVolume
	}
	return volume
}

// PoolAccount is a partner account used as a warmup counterpart.
// Read-only from the scheduler's perspective.
type PoolAccount struct {
	Email    string
	Active   bool
	DailyCap int
}
