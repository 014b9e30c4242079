// Package scheduler runs a dynamic pool of virtual users and scales it to
// follow a ramp profile.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/wesleyorama2/vuload/internal/metrics"
	"github.com/wesleyorama2/vuload/internal/stage"
)

// DefaultTick is how often Run re-evaluates the target.
const DefaultTick = 100 * time.Millisecond

// DefaultGracefulStop is the grace period used when Stop is given zero.
const DefaultGracefulStop = 30 * time.Second

// ErrGracePeriodExpired is returned by Stop when iterations were still
// running at the end of the grace period and had to be cancelled.
var ErrGracePeriodExpired = errors.New("graceful stop period expired, in-flight iterations cancelled")

// IterationRunner runs one work unit. *vu.Executor implements it.
type IterationRunner interface {
	RunIteration(ctx context.Context, vuID int, iteration int64, data any) error
}

// Config configures a Pool.
type Config struct {
	// Tick is the scaling interval of Run (default 100ms).
	Tick time.Duration

	// Pacing is the pause between iterations of each virtual user.
	Pacing Pacing

	// Data is passed to every iteration.
	Data any

	// Registry receives the vus and vus_max gauges. Optional.
	Registry *metrics.Registry

	Logger zerolog.Logger
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Active           int           `json:"active"`
	Live             int           `json:"live"`
	Target           int           `json:"target"`
	// MaxVUs is the highest number of workers actually spawned.
	MaxVUs           int           `json:"maxVUs"`
	Stage            int           `json:"stage"`
	Phase            stage.Phase   `json:"phase"`
	Iterations       int64         `json:"iterations"`
	FailedIterations int64         `json:"failedIterations"`
	Elapsed          time.Duration `json:"elapsed"`
}

type worker struct {
	id     int
	retire atomic.Bool
	stopCh chan struct{}
}

func (w *worker) requestRetire() {
	if w.retire.CompareAndSwap(false, true) {
		close(w.stopCh)
	}
}

// Pool is a set of worker goroutines, one per virtual user.
//
// Active counts workers that have not been asked to retire; it follows the
// target exactly. Live counts running goroutines and only drops once a
// retired worker finishes its in-flight iteration.
type Pool struct {
	runner IterationRunner
	cfg    Config

	// Iterations run under iterCtx, which is independent of the run
	// deadline and only cancelled when Stop's grace period expires.
	iterCtx    context.Context
	iterCancel context.CancelFunc

	mu      sync.Mutex
	workers []*worker
	nextID  int
	stopped bool
	wg      sync.WaitGroup

	live       atomic.Int32
	target     atomic.Int32
	maxVUs     atomic.Int32
	stageIdx   atomic.Int32
	iterations atomic.Int64
	failed     atomic.Int64

	startTime time.Time
	profile   stage.Profile
	stateMu   sync.RWMutex
}

// New creates an idle pool.
func New(runner IterationRunner, cfg Config) *Pool {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	iterCtx, cancel := context.WithCancel(context.Background())
	return &Pool{
		runner:     runner,
		cfg:        cfg,
		iterCtx:    iterCtx,
		iterCancel: cancel,
	}
}

// Run scales the pool along profile until the profile ends or ctx is done.
// It does not stop the workers; call Stop afterwards.
func (p *Pool) Run(ctx context.Context, profile stage.Profile) error {
	if err := profile.Validate(); err != nil {
		return err
	}

	p.stateMu.Lock()
	p.profile = profile
	p.startTime = time.Now()
	p.stateMu.Unlock()

	end := time.NewTimer(profile.Total())
	defer end.Stop()

	ticker := time.NewTicker(p.cfg.Tick)
	defer ticker.Stop()

	p.tick(profile)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-end.C:
			return nil
		case <-ticker.C:
			if done := p.tick(profile); done {
				return nil
			}
		}
	}
}

func (p *Pool) tick(profile stage.Profile) bool {
	elapsed := p.Elapsed()
	target, done := profile.TargetAt(elapsed)
	if done {
		return true
	}
	p.stageIdx.Store(int32(profile.StageAt(elapsed)))
	p.Scale(target)
	return false
}

// Scale sets the number of active workers to target. Surplus workers are
// retired newest first and finish their current iteration before exiting.
func (p *Pool) Scale(target int) {
	if target < 0 {
		target = 0
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}

	p.target.Store(int32(target))
	current := len(p.workers)

	if target > current {
		for i := current; i < target; i++ {
			p.nextID++
			w := &worker{id: p.nextID, stopCh: make(chan struct{})}
			p.workers = append(p.workers, w)
			p.wg.Add(1)
			p.live.Add(1)
			go p.runWorker(w)
		}
	} else if target < current {
		for i := current - 1; i >= target; i-- {
			p.workers[i].requestRetire()
			p.workers[i] = nil
		}
		p.workers = p.workers[:target]
	}

	active := len(p.workers)
	p.mu.Unlock()

	if int32(active) > p.maxVUs.Load() {
		p.maxVUs.Store(int32(active))
	}
	p.recordGauges(active)
}

func (p *Pool) recordGauges(active int) {
	if p.cfg.Registry == nil {
		return
	}
	_ = p.cfg.Registry.Gauge(metrics.VUs, float64(active))
	_ = p.cfg.Registry.Gauge(metrics.VUsMax, float64(p.maxVUs.Load()))
}

func (p *Pool) runWorker(w *worker) {
	defer p.wg.Done()
	defer p.live.Add(-1)

	log := p.cfg.Logger.With().Int("vu", w.id).Logger()

	for iter := int64(0); ; iter++ {
		if w.retire.Load() || p.iterCtx.Err() != nil {
			return
		}

		if err := p.runner.RunIteration(p.iterCtx, w.id, iter, p.cfg.Data); err != nil {
			p.failed.Add(1)
			log.Debug().Err(err).Int64("iter", iter).Msg("iteration ended with error")
		}
		p.iterations.Add(1)

		if w.retire.Load() {
			return
		}

		if wait := p.cfg.Pacing.Next(); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-w.stopCh:
			case <-p.iterCtx.Done():
			}
			timer.Stop()
		}
	}
}

// Stop retires every worker and waits up to grace for in-flight iterations
// to finish. If some are still running after grace, their context is
// cancelled and Stop waits for them to return.
func (p *Pool) Stop(grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultGracefulStop
	}

	p.mu.Lock()
	p.stopped = true
	for _, w := range p.workers {
		w.requestRetire()
	}
	p.workers = nil
	p.target.Store(0)
	p.mu.Unlock()
	p.recordGauges(0)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		p.iterCancel()
		return nil
	case <-timer.C:
		p.cfg.Logger.Warn().
			Dur("grace", grace).
			Int("live", p.Live()).
			Msg("graceful stop expired, cancelling in-flight iterations")
		p.iterCancel()
		<-done
		return ErrGracePeriodExpired
	}
}

// Active returns the number of workers not asked to retire.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Live returns the number of running worker goroutines.
func (p *Pool) Live() int {
	return int(p.live.Load())
}

// Iterations returns the number of completed iterations.
func (p *Pool) Iterations() int64 {
	return p.iterations.Load()
}

// Elapsed returns time since Run started, or zero before.
func (p *Pool) Elapsed() time.Duration {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	if p.startTime.IsZero() {
		return 0
	}
	return time.Since(p.startTime)
}

// Stats returns a snapshot of the pool state.
func (p *Pool) Stats() Stats {
	elapsed := p.Elapsed()

	p.stateMu.RLock()
	profile := p.profile
	p.stateMu.RUnlock()

	phase := stage.PhaseDone
	if len(profile.Stages) > 0 {
		phase = profile.PhaseAt(elapsed)
	}

	return Stats{
		Active:           p.Active(),
		Live:             p.Live(),
		Target:           int(p.target.Load()),
		MaxVUs:           int(p.maxVUs.Load()),
		Stage:            int(p.stageIdx.Load()),
		Phase:            phase,
		Iterations:       p.iterations.Load(),
		FailedIterations: p.failed.Load(),
		Elapsed:          elapsed,
	}
}
