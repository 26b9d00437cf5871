// Package runner fans a run's accounts out over a bounded pool of workers
// and drives each account through the configured task flow.
package runner

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/unwinned/optisoft/internal/accounts"
	"github.com/unwinned/optisoft/internal/config"
	"github.com/unwinned/optisoft/internal/rundb"
	"github.com/unwinned/optisoft/pkg/logger"
)

// Task is one unit of per-account work (withdraw, bridge, swap).
type Task func(ctx context.Context, acct *accounts.Account, log *logrus.Entry) error

// Runner schedules accounts onto a weighted semaphore. One account's failure
// marks its row failed and never interrupts the others.
type Runner struct {
	cfg   *config.Config
	db    *rundb.DB
	tasks map[string]Task
	log   *logrus.Entry

	// rand.Rand is not goroutine-safe; every worker draws through rngMu
	rngMu sync.Mutex
	rng   *rand.Rand
	// sleep ranges in seconds; overridable so tests run instantly
	sleepWallets [2]int
	sleepTasks   [2]int
}

func New(cfg *config.Config, db *rundb.DB, tasks map[string]Task) *Runner {
	r := &Runner{
		cfg:   cfg,
		db:    db,
		tasks: tasks,
		log:   logger.WithModule("runner"),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	copy(r.sleepWallets[:], cfg.Settings.SleepBetweenWallets)
	copy(r.sleepTasks[:], cfg.Settings.SleepBetweenTasks)
	return r
}

// Run seeds the database, shuffles the queue and works it off. The returned
// error covers scheduling only; per-account task failures are recorded in the
// run database and logged.
func (r *Runner) Run(ctx context.Context, accts []*accounts.Account) error {
	order, err := r.prepare(ctx, accts)
	if err != nil {
		return err
	}

	sem := semaphore.NewWeighted(int64(r.cfg.Settings.SimultaneousAccounts))
	g, ctx := errgroup.WithContext(ctx)

	r.log.Infof("Running %d accounts...", len(order))
	for _, acct := range order {
		acct := acct
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			if err := r.sleepRange(ctx, r.sleepWallets); err != nil {
				return err
			}
			r.runAccount(ctx, acct)
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) prepare(ctx context.Context, accts []*accounts.Account) ([]*accounts.Account, error) {
	order := append([]*accounts.Account(nil), accts...)
	if r.db != nil {
		for _, acct := range accts {
			if err := r.db.Seed(ctx, acct.Address.Hex(), acct.PrivateKeyHex(), string(acct.Proxy)); err != nil {
				return nil, err
			}
		}
		rows, err := r.db.Unfinished(ctx)
		if err != nil {
			return nil, err
		}
		pending := make(map[string]bool, len(rows))
		for _, row := range rows {
			pending[row.Address] = true
		}

		order = make([]*accounts.Account, 0, len(accts))
		for _, acct := range accts {
			if !pending[acct.Address.Hex()] {
				r.log.Infof("Account %d already finished, skipping", acct.Index)
				continue
			}
			order = append(order, acct)
		}
	}
	r.shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	return order, nil
}

func (r *Runner) runAccount(ctx context.Context, acct *accounts.Account) {
	log := logger.WithAccount(acct.Index, acct.Address.Hex())

	flow := r.taskOrder()
	for i, name := range flow {
		task, ok := r.tasks[name]
		if !ok {
			log.Errorf("Unknown task %q in flow, skipping account", name)
			r.record(ctx, acct, name, rundb.StatusFailed)
			return
		}

		r.record(ctx, acct, name, rundb.StatusRunning)
		if err := task(ctx, acct, log); err != nil {
			log.Errorf("Task %s failed: %v", name, err)
			r.record(ctx, acct, name, rundb.StatusFailed)
			return
		}
		log.Infof("Task %s completed", name)

		if i < len(flow)-1 {
			if err := r.sleepRange(ctx, r.sleepTasks); err != nil {
				r.record(ctx, acct, name, rundb.StatusFailed)
				return
			}
		}
	}
	last := ""
	if len(flow) > 0 {
		last = flow[len(flow)-1]
	}
	r.record(ctx, acct, last, rundb.StatusDone)
}

// taskOrder returns the configured flow, shuffled when FLOW.random is set.
func (r *Runner) taskOrder() []string {
	flow := make([]string, len(r.cfg.Flow.Tasks))
	copy(flow, r.cfg.Flow.Tasks)
	if r.cfg.Flow.Random {
		r.shuffle(len(flow), func(i, j int) { flow[i], flow[j] = flow[j], flow[i] })
	}
	return flow
}

func (r *Runner) shuffle(n int, swap func(i, j int)) {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	r.rng.Shuffle(n, swap)
}

func (r *Runner) randInt63n(n int64) int64 {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return r.rng.Int63n(n)
}

func (r *Runner) record(ctx context.Context, acct *accounts.Account, task, status string) {
	if r.db == nil {
		return
	}
	if err := r.db.SetStatus(ctx, acct.Address.Hex(), task, status); err != nil {
		r.log.Warnf("Failed to record status for account %d: %v", acct.Index, err)
	}
}

func (r *Runner) sleepRange(ctx context.Context, rng [2]int) error {
	if rng[1] <= 0 {
		return nil
	}
	span := rng[1] - rng[0]
	d := time.Duration(rng[0])*time.Second + time.Duration(r.randInt63n(int64(span+1)))*time.Second
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "runner: interrupted while sleeping")
	case <-timer.C:
		return nil
	}
}
