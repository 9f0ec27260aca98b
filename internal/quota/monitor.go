// Package quota runs the periodic storage and memory check over every
// registered sandbox.
package quota

import (
	"context"
	"fmt"
	"io/fs"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/firefly-engineering/clonebox/internal/audit"
	"github.com/firefly-engineering/clonebox/internal/errors"
	"github.com/firefly-engineering/clonebox/internal/logging"
	"github.com/firefly-engineering/clonebox/internal/registry"
	"github.com/firefly-engineering/clonebox/internal/sandbox"
	"github.com/firefly-engineering/clonebox/internal/storage"
)

const (
	DefaultInterval      = 10 * time.Second
	DefaultWarningBuffer = 64

	// memoryWarnRatio is the memory utilization that raises a warning.
	memoryWarnRatio = 0.9
)

// Cleaner reclaims space in a sandbox and returns the usage afterwards.
type Cleaner interface {
	Cleanup(ctx context.Context, sb sandbox.Sandbox) (int64, error)
}

// MemorySampler returns the current memory use in bytes.
type MemorySampler func() uint64

// ProcessMemory reports the memory the Go runtime obtained from the OS.
// It measures this whole process, not any one sandbox, so memory warnings
// are an approximation shared by every sandbox checked in a tick.
func ProcessMemory() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys
}

// WarningKind says which quota a warning is about.
type WarningKind string

const (
	WarningStorage WarningKind = "storage"
	WarningMemory  WarningKind = "memory"
)

// Warning is emitted when a sandbox crosses a threshold.
type Warning struct {
	SandboxID string
	Kind      WarningKind
	Used      int64
	Limit     int64
	Ratio     float64
	At        time.Time
}

// CheckResult holds the outcome of checking one sandbox in one tick.
type CheckResult struct {
	SandboxID  string
	Skipped    bool
	Assessment Assessment
	Cleaned    bool
	UsedAfter  int64
	Err        error
}

// Monitor periodically measures sandbox usage against quota.
type Monitor struct {
	reg      *registry.Registry
	cleaner  Cleaner
	interval time.Duration
	memory   MemorySampler
	usage    func(root string) (int64, error)
	auditLog audit.Recorder
	now      func() time.Time

	warnings chan Warning
	dropped  atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the tick interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithMemorySampler replaces the process memory sampler.
func WithMemorySampler(s MemorySampler) Option {
	return func(m *Monitor) {
		m.memory = s
	}
}

// WithUsageFunc replaces the storage measurement.
func WithUsageFunc(f func(root string) (int64, error)) Option {
	return func(m *Monitor) {
		m.usage = f
	}
}

// WithAuditLogger sets the audit recorder for warnings and errors.
func WithAuditLogger(r audit.Recorder) Option {
	return func(m *Monitor) {
		if r != nil {
			m.auditLog = r
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// WithWarningBuffer sets the capacity of the warnings channel.
func WithWarningBuffer(n int) Option {
	return func(m *Monitor) {
		if n >= 0 {
			m.warnings = make(chan Warning, n)
		}
	}
}

// New creates a new Monitor.
func New(reg *registry.Registry, cleaner Cleaner, opts ...Option) *Monitor {
	m := &Monitor{
		reg:      reg,
		cleaner:  cleaner,
		interval: DefaultInterval,
		memory:   ProcessMemory,
		usage:    storage.Usage,
		auditLog: audit.Discard,
		now:      time.Now,
		warnings: make(chan Warning, DefaultWarningBuffer),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Interval returns the tick interval.
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Warnings returns the warning stream. Sends never block: when the buffer
// is full the warning is dropped and counted.
func (m *Monitor) Warnings() <-chan Warning {
	return m.warnings
}

// Dropped returns how many warnings were dropped on a full buffer.
func (m *Monitor) Dropped() uint64 {
	return m.dropped.Load()
}

// Run starts the monitoring loop. It blocks until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	logging.Debug("starting quota monitor", "interval", m.interval)

	// Run an immediate check, then loop on interval.
	m.Tick(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Debug("quota monitor stopping")
			return ctx.Err()
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Start runs the loop on its own goroutine. Calling Start on a running
// monitor does nothing.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel, m.done = cancel, done

	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
}

// Stop cancels the loop and waits for it to exit, or for ctx to expire if
// an in-flight check is slow to notice. No tick starts after Stop returns
// nil.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("quota monitor did not stop: %w", ctx.Err())
	}
}

// Tick checks every registered sandbox once. A failure in one sandbox is
// logged and recorded in its result; it never stops the others.
func (m *Monitor) Tick(ctx context.Context) []CheckResult {
	snapshot := m.reg.Snapshot()
	memUsed := m.memory()

	results := make([]CheckResult, 0, len(snapshot))
	for _, sb := range snapshot {
		if ctx.Err() != nil {
			break
		}
		results = append(results, m.checkSafely(ctx, sb, memUsed))
	}
	return results
}

func (m *Monitor) checkSafely(ctx context.Context, sb sandbox.Sandbox, memUsed uint64) (result CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.MonitoringFailed(sb.ID, fmt.Errorf("panic: %v", r))
			m.reportError(sb.ID, err)
			result = CheckResult{SandboxID: sb.ID, Err: err}
		}
	}()
	return m.check(ctx, sb, memUsed)
}

func (m *Monitor) check(ctx context.Context, sb sandbox.Sandbox, memUsed uint64) CheckResult {
	result := CheckResult{SandboxID: sb.ID}
	log := logging.ForSandbox(sb.ID)

	if !sb.State.Live() {
		result.Skipped = true
		return result
	}

	used, err := m.usage(sb.RootPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Destroyed between the snapshot and now.
			log.Debug("sandbox root vanished, skipping", "root", sb.RootPath)
			result.Skipped = true
			return result
		}
		result.Err = errors.MonitoringFailed(sb.ID, err)
		m.reportError(sb.ID, result.Err)
		return result
	}
	now := m.now()
	m.reg.Touch(sb.ID, now)

	limit := EffectiveLimit(sb.StorageLimit(), sb.Policy.MaxStorageSize)
	a, err := Evaluate(used, limit, sb.Policy.StorageWarningThreshold)
	if err != nil {
		result.Err = errors.MonitoringFailed(sb.ID, err)
		m.reportError(sb.ID, result.Err)
		return result
	}
	result.Assessment = a

	if a.Warn {
		m.reg.Transition(sb.ID, sandbox.StateWarning, sandbox.StateActive)
		m.emit(Warning{SandboxID: sb.ID, Kind: WarningStorage, Used: a.Used, Limit: a.Limit, Ratio: a.Ratio, At: now})
		log.Warn("storage usage above threshold", "used", a.Used, "limit", a.Limit, "ratio", a.Ratio)
		_ = m.auditLog.LogEvent(audit.EventQuotaWarning, sb.ID, fmt.Sprintf("used=%d limit=%d", a.Used, a.Limit))
	} else {
		m.reg.Transition(sb.ID, sandbox.StateActive, sandbox.StateWarning)
	}

	if a.Exceeded {
		log.Info("quota exceeded", "error", errors.QuotaExceeded(sb.ID, a.Used, a.Limit))
		if sb.Policy.EnableStorageCleanup {
			m.cleanup(ctx, sb, &result)
		}
	}

	m.checkMemory(sb, memUsed, now)
	return result
}

func (m *Monitor) cleanup(ctx context.Context, sb sandbox.Sandbox, result *CheckResult) {
	// Losing this race means destroy claimed the sandbox first.
	if !m.reg.Transition(sb.ID, sandbox.StateCleaning, sandbox.StateActive, sandbox.StateWarning) {
		return
	}
	defer m.reg.Transition(sb.ID, sandbox.StateActive, sandbox.StateCleaning)

	after, err := m.cleaner.Cleanup(ctx, sb)
	if err != nil {
		result.Err = errors.MonitoringFailed(sb.ID, fmt.Errorf("cleanup: %w", err))
		m.reportError(sb.ID, result.Err)
		return
	}
	result.Cleaned = true
	result.UsedAfter = after
	logging.ForSandbox(sb.ID).Info("storage cleanup finished", "before", result.Assessment.Used, "after", after)
	_ = m.auditLog.LogEvent(audit.EventCleanup, sb.ID, fmt.Sprintf("before=%d after=%d", result.Assessment.Used, after))
}

func (m *Monitor) checkMemory(sb sandbox.Sandbox, memUsed uint64, now time.Time) {
	if sb.MemoryLimit <= 0 {
		return
	}
	ratio := float64(memUsed) / float64(sb.MemoryLimit)
	if ratio <= memoryWarnRatio {
		return
	}
	m.emit(Warning{SandboxID: sb.ID, Kind: WarningMemory, Used: int64(memUsed), Limit: sb.MemoryLimit, Ratio: ratio, At: now})
	logging.ForSandbox(sb.ID).Warn("process memory above 90% of sandbox limit", "used", memUsed, "limit", sb.MemoryLimit)
	_ = m.auditLog.LogEvent(audit.EventMemoryWarning, sb.ID, fmt.Sprintf("used=%d limit=%d", memUsed, sb.MemoryLimit))
}

func (m *Monitor) emit(w Warning) {
	select {
	case m.warnings <- w:
	default:
		m.dropped.Add(1)
	}
}

func (m *Monitor) reportError(id string, err error) {
	logging.ForSandbox(id).Warn("quota check failed", "error", err)
	_ = m.auditLog.LogEvent(audit.EventError, id, err.Error())
}
