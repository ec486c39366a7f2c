package plan

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"mailwarm/internal/model"
)

var (
	// ErrNoPoolAccounts distinguishes "cannot proceed" from "nothing to
	// do"; callers must not mistake a missing pool for an empty day.
	ErrNoPoolAccounts = errors.New("no pool accounts available")

	ErrInvalidAccount = errors.New("invalid warmup account")
)

// Config scales the delay assignment. Production spreads a day's sends
// across business hours; tests compress the window to minutes. The shape
// (monotonic, spread, no duplicate instants per sender) holds regardless.
type Config struct {
	SendWindow time.Duration
	MinGap     time.Duration
}

// Plan is one account's concrete sequence of directional jobs for today.
type Plan struct {
	Sequence      []model.EmailJob
	TotalCount    int
	OutboundCount int
	InboundCount  int
	WarmupDay     int
}

// Generator turns a warmup account's configuration into a randomized job
// sequence. It performs no I/O; capacity clipping and persistence belong
// to the orchestrator. Safe for concurrent use: incremental scheduling and
// the global cycle run on different goroutines but share one Generator.
type Generator struct {
	cfg Config

	mu  sync.Mutex // rand.Rand is not safe for concurrent use
	rng *rand.Rand
}

func NewGenerator(cfg Config, rng *rand.Rand) *Generator {
	if cfg.SendWindow <= 0 {
		cfg.SendWindow = 8 * time.Hour
	}
	if cfg.MinGap <= 0 {
		cfg.MinGap = 90 * time.Second
	}
	return &Generator{cfg: cfg, rng: rng}
}

// Generate builds the day's plan for one account against the candidate
// pools. The returned sequence is shuffled; each job keeps its assigned
// delay, only presentation order changes.
func (g *Generator) Generate(acct *model.WarmupAccount, pools []*model.PoolAccount) (*Plan, error) {
	if acct == nil || acct.Email == "" {
		return nil, ErrInvalidAccount
	}
	if len(pools) == 0 {
		return nil, fmt.Errorf("%w: account %s", ErrNoPoolAccounts, acct.Email)
	}

	volume := acct.TargetVolume()

	var jobs []model.EmailJob
	if IsOrganizational(acct) {
		jobs = g.receiveOnlySequence(acct, pools, volume)
	} else {
		jobs = g.pairedSequence(acct, pools, volume)
	}

	g.assignDelays(jobs)

	plan := &Plan{
		Sequence:  jobs,
		WarmupDay: acct.WarmupDay,
	}
	for _, j := range jobs {
		if j.Direction == model.WarmupToPool {
			plan.OutboundCount++
		} else {
			plan.InboundCount++
		}
	}
	plan.TotalCount = len(jobs)

	g.mu.Lock()
	g.rng.Shuffle(len(plan.Sequence), func(i, k int) {
		plan.Sequence[i], plan.Sequence[k] = plan.Sequence[k], plan.Sequence[i]
	})
	g.mu.Unlock()

	return plan, nil
}

// receiveOnlySequence builds an inbound-only plan. Organizational mail
// platforms require admin consent to send programmatically, which this
// system does not assume it has.
func (g *Generator) receiveOnlySequence(acct *model.WarmupAccount, pools []*model.PoolAccount, volume int) []model.EmailJob {
	jobs := make([]model.EmailJob, 0, volume)
	for i := 0; i < volume; i++ {
		pool := pools[i%len(pools)]
		jobs = append(jobs, model.EmailJob{
			Sender:       pool.Email,
			Receiver:     acct.Email,
			Direction:    model.PoolToWarmup,
			AccountEmail: acct.Email,
		})
	}
	return jobs
}

// pairedSequence interleaves one outbound and one inbound job per pool
// (reply simulation), pairing with up to ceil(volume/2) pools, then tops
// up with outbound-only jobs cycling through pools until volume is reached.
func (g *Generator) pairedSequence(acct *model.WarmupAccount, pools []*model.PoolAccount, volume int) []model.EmailJob {
	jobs := make([]model.EmailJob, 0, volume)

	pairs := (volume + 1) / 2
	if pairs > len(pools) {
		pairs = len(pools)
	}

	for i := 0; i < pairs && len(jobs) < volume; i++ {
		pool := pools[i]
		jobs = append(jobs, model.EmailJob{
			Sender:       acct.Email,
			Receiver:     pool.Email,
			Direction:    model.WarmupToPool,
			AccountEmail: acct.Email,
		})
		if len(jobs) < volume {
			jobs = append(jobs, model.EmailJob{
				Sender:       pool.Email,
				Receiver:     acct.Email,
				Direction:    model.PoolToWarmup,
				AccountEmail: acct.Email,
			})
		}
	}

	// fewer pools than volume warrants: top up outbound-only
	for i := 0; len(jobs) < volume; i++ {
		pool := pools[i%len(pools)]
		jobs = append(jobs, model.EmailJob{
			Sender:       acct.Email,
			Receiver:     pool.Email,
			Direction:    model.WarmupToPool,
			AccountEmail: acct.Email,
		})
	}

	return jobs
}

// assignDelays spreads jobs across the send window with monotonically
// increasing delays in generation order, so no sender ever gets two jobs
// at the same instant.
func (g *Generator) assignDelays(jobs []model.EmailJob) {
	if len(jobs) == 0 {
		return
	}

	step := g.cfg.SendWindow / time.Duration(len(jobs)+1)
	if step < g.cfg.MinGap {
		step = g.cfg.MinGap
	}

	for i := range jobs {
		jobs[i].Delay = step * time.Duration(i+1)
	}
}
