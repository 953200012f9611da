package planner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/voltplan/voltplan/core/logger"
	"github.com/voltplan/voltplan/core/model"
)

// SourceFunc resolves the current input snapshot. It is called at the start
// of every cycle and must not block on slow I/O longer than a cycle should
// take.
type SourceFunc func(ctx context.Context) (model.Snapshot, error)

// LoopConfig tunes the evaluation cadence.
type LoopConfig struct {
	Interval time.Duration `json:"interval"`
	// MinSpacing is the shortest allowed gap between two cycle starts;
	// change triggers arriving earlier are dropped.
	MinSpacing time.Duration `json:"min_spacing"`
	// DataWarningDelay is how long the loop tolerates missing price data
	// before logging a warning.
	DataWarningDelay time.Duration `json:"data_warning_delay"`
}

func (c *LoopConfig) SetDefaults() {
	if c.Interval == 0 {
		c.Interval = 30 * time.Second
	}
	if c.MinSpacing == 0 {
		c.MinSpacing = 5 * time.Second
	}
	if c.DataWarningDelay == 0 {
		c.DataWarningDelay = 5 * time.Minute
	}
}

func (c LoopConfig) Validate() error {
	if c.MinSpacing > c.Interval {
		return fmt.Errorf("planner: min_spacing %s exceeds interval %s", c.MinSpacing, c.Interval)
	}
	return nil
}

// Loop drives the engine: a fixed interval plus on-change triggers, with a
// minimum spacing between cycles. Cycles run serially; triggers arriving
// mid-cycle coalesce into at most one pending request.
type Loop struct {
	cfg    LoopConfig
	engine *Engine
	source SourceFunc
	log    logger.Logger

	trigger chan struct{}
	onCycle func(Decision)

	mu        sync.RWMutex
	last      *Decision
	lastStart time.Time

	dataMissingSince time.Time
	warned           bool
}

func NewLoop(cfg LoopConfig, engine *Engine, source SourceFunc, log logger.Logger) *Loop {
	cfg.SetDefaults()
	return &Loop{
		cfg:     cfg,
		engine:  engine,
		source:  source,
		log:     log,
		trigger: make(chan struct{}, 1),
	}
}

// OnCycle registers a callback invoked after every completed cycle, before
// Run was started. Used by the service layer to publish decisions.
func (l *Loop) OnCycle(fn func(Decision)) { l.onCycle = fn }

// Trigger requests an immediate evaluation. It never blocks; a trigger
// arriving while one is already pending is dropped.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// Last returns the most recent decision, if any cycle has completed.
func (l *Loop) Last() (Decision, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.last == nil {
		return Decision{}, false
	}
	return *l.last, true
}

// Run blocks until ctx is done, evaluating on every tick or trigger.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.cycle(ctx)
		case <-l.trigger:
			l.cycle(ctx)
		}
	}
}

func (l *Loop) cycle(ctx context.Context) {
	now := time.Now()

	l.mu.Lock()
	if !l.lastStart.IsZero() && now.Sub(l.lastStart) < l.cfg.MinSpacing {
		l.mu.Unlock()
		return
	}
	l.lastStart = now
	l.mu.Unlock()

	snap, err := l.source(ctx)
	if err != nil {
		l.log.Errorf("snapshot source failed: %v", err)
		return
	}

	l.checkDataAvailability(snap, now)

	dec := l.engine.Evaluate(snap)

	l.mu.Lock()
	l.last = &dec
	l.mu.Unlock()

	if l.onCycle != nil {
		l.onCycle(dec)
	}
}

// checkDataAvailability warns once when price data has been missing for
// longer than the configured delay, and resets when it recovers.
func (l *Loop) checkDataAvailability(snap model.Snapshot, now time.Time) {
	if snap.Prices.Current != nil {
		l.dataMissingSince = time.Time{}
		l.warned = false
		return
	}
	if l.dataMissingSince.IsZero() {
		l.dataMissingSince = now
		return
	}
	if !l.warned && now.Sub(l.dataMissingSince) >= l.cfg.DataWarningDelay {
		l.log.Warnf("price data missing for %s, charging stays blocked until it recovers",
			now.Sub(l.dataMissingSince).Round(time.Second))
		l.warned = true
	}
}
