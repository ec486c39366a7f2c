package model

import (
	"fmt"
	"time"
)

// Direction of a single exchange.
type Direction string

const (
	WarmupToPool Direction = "WARMUP_TO_POOL"
	PoolToWarmup Direction = "POOL_TO_WARMUP"
)

// Role distinguishes which cap applies to an account in the ledger: a
// warmup account's cap is derived from its progression fields, a pool
// account's cap is statically configured.
type Role string

const (
	RoleWarmup Role = "warmup"
	RolePool   Role = "pool"
)

// EmailJob is the atomic unit of warmup work: one directional send, with a
// delay relative to plan-generation time. Jobs are immutable; rescheduling
// produces a new plan rather than mutating existing jobs.
type EmailJob struct {
	Sender       string        `json:"sender"`
	Receiver     string        `json:"receiver"`
	Direction    Direction     `json:"direction"`
	Delay        time.Duration `json:"delay"`
	AccountEmail string        `json:"account_email"`
}

// TargetEmail is the account whose capacity the job consumes: always the
// sending side (the warmup account for outbound jobs, the pool account for
// inbound ones).
func (j *EmailJob) TargetEmail() string {
	return j.Sender
}

// TargetRole is the ledger role matching TargetEmail.
func (j *EmailJob) TargetRole() Role {
	if j.Direction == WarmupToPool {
		return RoleWarmup
	}
	return RolePool
}

// LedgerSnapshot captures ledger state at schedule time, stored on the
// persisted record for diagnostics only.
type LedgerSnapshot struct {
	SentToday int `json:"sent_today"`
	Cap       int `json:"cap"`
}

// PersistedJobRecord is the durable form of an armed, not-yet-fired job.
type PersistedJobRecord struct {
	FireAt       time.Time      `json:"fire_at"`
	Job          EmailJob       `json:"job"`
	AccountEmail string         `json:"account_email"`
	Snapshot     LedgerSnapshot `json:"snapshot"`
	ScheduledAt  time.Time      `json:"scheduled_at"`
}

// Key derives the deterministic persistence key. Re-scheduling the same
// job at the same instant produces the same key, making persistence
// idempotent.
func (r *PersistedJobRecord) Key() string {
	return JobKey(r.FireAt, r.Job.Sender, r.Job.Receiver, r.Job.Direction)
}

func JobKey(fireAt time.Time, sender, receiver string, direction Direction) string {
	return fmt.Sprintf("%d:%s:%s:%s", fireAt.Unix(), sender, receiver, direction)
}
