// Package manager is the entry point for sandbox lifecycle operations.
// It orders provisioning, security materialization, persistence and
// registration on create, and tears them down again on destroy.
package manager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/firefly-engineering/clonebox/internal/audit"
	"github.com/firefly-engineering/clonebox/internal/config"
	"github.com/firefly-engineering/clonebox/internal/enforcer"
	"github.com/firefly-engineering/clonebox/internal/errors"
	"github.com/firefly-engineering/clonebox/internal/logging"
	"github.com/firefly-engineering/clonebox/internal/network"
	"github.com/firefly-engineering/clonebox/internal/policy"
	"github.com/firefly-engineering/clonebox/internal/provision"
	"github.com/firefly-engineering/clonebox/internal/registry"
	"github.com/firefly-engineering/clonebox/internal/sandbox"
	"github.com/firefly-engineering/clonebox/internal/storage"
	"github.com/firefly-engineering/clonebox/internal/system"
	"github.com/firefly-engineering/clonebox/internal/workload"
)

// Create steps, in order.
const (
	StepValidate  = "validate"
	StepReserve   = "reserve"
	StepProvision = "provision"
	StepSecurity  = "security"
	StepPersist   = "persist"
	StepRegister  = "register"
)

// DefaultClearParallelism bounds concurrent destroys in ClearAll.
const DefaultClearParallelism = 4

var tracer = otel.Tracer("github.com/firefly-engineering/clonebox/internal/manager")

// CreateRequest describes a sandbox to create.
type CreateRequest struct {
	CloneID     string
	PackageName string
	Isolation   policy.IsolationLevel // empty means standard
	Policy      *policy.SecurityPolicy
}

// Manager owns sandbox lifecycles.
type Manager struct {
	paths    *config.Paths
	fs       system.FileSystem
	reg      *registry.Registry
	prov     *provision.Provisioner
	enf      *enforcer.Enforcer
	store    *config.DescriptorStore
	term     workload.Terminator
	auditLog audit.Recorder
	usage    func(root string) (int64, error)
	now      func() time.Time
	lookup   network.LookupFunc
	parallel int

	// ids reserved by an in-flight Create
	pending sync.Map
}

// Option configures a Manager.
type Option func(*Manager)

// WithTerminator sets the workload terminator used on destroy.
func WithTerminator(t workload.Terminator) Option {
	return func(m *Manager) {
		if t != nil {
			m.term = t
		}
	}
}

// WithAuditLogger sets the audit recorder.
func WithAuditLogger(r audit.Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.auditLog = r
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithHostLookup sets the resolver used when rendering network allow-lists.
func WithHostLookup(lookup network.LookupFunc) Option {
	return func(m *Manager) {
		m.lookup = lookup
	}
}

// WithUsageFunc replaces the storage measurement used by Report.
func WithUsageFunc(f func(root string) (int64, error)) Option {
	return func(m *Manager) {
		m.usage = f
	}
}

// WithClearParallelism bounds concurrent destroys in ClearAll.
func WithClearParallelism(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.parallel = n
		}
	}
}

// New creates a Manager over paths. Every file-system access goes through
// fsys.
func New(paths *config.Paths, fsys system.FileSystem, reg *registry.Registry, opts ...Option) *Manager {
	m := &Manager{
		paths:    paths,
		fs:       fsys,
		reg:      reg,
		prov:     provision.New(fsys, paths.SandboxesRoot),
		store:    config.NewDescriptorStore(fsys, paths.DescriptorsDir),
		term:     workload.Noop{},
		auditLog: audit.Discard,
		usage:    storage.Usage,
		now:      time.Now,
		parallel: DefaultClearParallelism,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.enf = enforcer.New(fsys, network.NewRenderer(m.lookup))
	return m
}

// Registry returns the registry the manager writes to.
func (m *Manager) Registry() *registry.Registry {
	return m.reg
}

// Create builds a new sandbox. Any failure undoes every earlier step of
// this call and returns a creation error naming the failed step.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (sb sandbox.Sandbox, err error) {
	ctx, span := tracer.Start(ctx, "clonebox.create", trace.WithAttributes(
		attribute.String("clonebox.clone_id", req.CloneID),
		attribute.String("clonebox.package", req.PackageName),
	))
	defer func() { endSpan(span, err) }()

	level, p, err := m.validate(req)
	if err != nil {
		return sandbox.Sandbox{}, errors.CreationFailed(StepValidate, err)
	}

	if err := ctx.Err(); err != nil {
		return sandbox.Sandbox{}, errors.CreationFailed(StepReserve, err)
	}
	now := m.now()
	id := m.reg.ReserveID(now)
	m.pending.Store(id, struct{}{})
	defer m.pending.Delete(id)
	span.SetAttributes(attribute.String("clonebox.sandbox_id", id))
	log := logging.ForSandbox(id)

	root := sandbox.NewLayout(m.paths.SandboxesRoot, id, req.PackageName).Root
	if m.fs.Exists(root) {
		return sandbox.Sandbox{}, errors.CreationFailed(StepProvision,
			errors.ProvisioningFailed(root, fmt.Errorf("sandbox root already exists")))
	}
	layout, err := m.prov.Provision(id, req.PackageName, level)
	if err != nil {
		return sandbox.Sandbox{}, m.createFailed(id, StepProvision, err)
	}

	sb = sandbox.New(id, req.CloneID, req.PackageName, layout, level, p, now)

	if _, err := m.enf.Materialize(sb); err != nil {
		m.rollbackTree(layout)
		return sandbox.Sandbox{}, m.createFailed(id, StepSecurity, err)
	}

	if err := m.store.Save(sb.Descriptor()); err != nil {
		m.rollbackTree(layout)
		return sandbox.Sandbox{}, m.createFailed(id, StepPersist, err)
	}

	sb.State = sandbox.StateActive
	if err := m.reg.Insert(sb); err != nil {
		if derr := m.store.Delete(id); derr != nil {
			log.Warn("rollback could not delete descriptor", "error", derr)
		}
		m.rollbackTree(layout)
		return sandbox.Sandbox{}, m.createFailed(id, StepRegister, err)
	}

	log.Info("sandbox created",
		"clone", sb.CloneID,
		"package", sb.PackageName,
		"isolation", sb.IsolationLevel,
		"root", sb.RootPath,
	)
	_ = m.auditLog.LogEvent(audit.EventCreate, id,
		fmt.Sprintf("clone=%s package=%s isolation=%s", sb.CloneID, sb.PackageName, sb.IsolationLevel))
	return sb.Clone(), nil
}

func (m *Manager) validate(req CreateRequest) (policy.IsolationLevel, policy.SecurityPolicy, error) {
	if strings.TrimSpace(req.CloneID) == "" {
		return "", policy.SecurityPolicy{}, errors.ValidationError("clone id cannot be empty")
	}
	if err := provision.ValidatePackageName(req.PackageName); err != nil {
		return "", policy.SecurityPolicy{}, errors.ValidationError(err.Error())
	}

	level := policy.IsolationStandard
	if req.Isolation != "" {
		if !req.Isolation.Valid() {
			return "", policy.SecurityPolicy{}, errors.ValidationError(fmt.Sprintf("invalid isolation level %q", req.Isolation))
		}
		level = req.Isolation
	}

	p := policy.DefaultPolicy()
	if req.Policy != nil {
		p = req.Policy.Clone()
	}
	if err := p.Validate(); err != nil {
		return "", policy.SecurityPolicy{}, errors.ValidationError(err.Error())
	}
	return level, p, nil
}

func (m *Manager) createFailed(id, step string, cause error) error {
	err := errors.CreationFailed(step, cause)
	logging.ForSandbox(id).Error("sandbox creation failed", "step", step, "error", cause)
	_ = m.auditLog.LogEvent(audit.EventError, id, err.Error())
	return err
}

func (m *Manager) rollbackTree(layout sandbox.Layout) {
	if err := m.prov.Rollback(layout); err != nil {
		logging.Warn("rollback could not remove sandbox tree", "root", layout.Root, "error", err)
	}
}

// Destroy tears a sandbox down. It returns (false, nil) for an unknown id.
//
// The entry is marked destroying first and only removed from the registry
// once its tree and descriptor are gone. The tree is renamed to a
// tombstone before it is deleted: if the rename fails nothing was touched
// and the sandbox goes back to its previous state. Once the tree has been
// moved it is never served again; a failed delete leaves the entry in
// destroy-failed so a later Destroy (or clear, or gc) can finish it.
// A sandbox the monitor is cleaning is refused.
func (m *Manager) Destroy(ctx context.Context, id string) (ok bool, err error) {
	ctx, span := tracer.Start(ctx, "clonebox.destroy", trace.WithAttributes(
		attribute.String("clonebox.sandbox_id", id),
	))
	defer func() { endSpan(span, err) }()

	sb, found := m.reg.Get(id)
	if !found {
		return false, nil
	}
	if !m.reg.Transition(id, sandbox.StateDestroying,
		sandbox.StateActive, sandbox.StateWarning, sandbox.StateDestroyFailed) {
		current, _ := m.reg.Get(id)
		return false, errors.DestructionFailed(id, fmt.Errorf("sandbox is %s", current.State))
	}
	// Revert target when nothing on disk has changed yet.
	restore := sandbox.StateActive
	if sb.State == sandbox.StateDestroyFailed {
		restore = sandbox.StateDestroyFailed
	}
	log := logging.ForSandbox(id)

	// Workload termination belongs to an external agent; its failure does
	// not keep the storage alive.
	if restore == sandbox.StateActive {
		if err := m.term.Terminate(ctx, sb); err != nil {
			log.Warn("workload termination failed", "error", err)
		}
	}

	tomb := sandbox.TombstonePath(m.paths.SandboxesRoot, id)
	if m.fs.Exists(sb.RootPath) {
		// A tombstone left by an earlier attempt would block the rename.
		if err := m.fs.RemoveAll(tomb); err != nil {
			return false, m.destroyFailed(id, restore, fmt.Errorf("remove stale %s: %w", tomb, err))
		}
		if err := m.fs.Rename(sb.RootPath, tomb); err != nil {
			return false, m.destroyFailed(id, restore, fmt.Errorf("move %s aside: %w", sb.RootPath, err))
		}
	}

	if err := m.fs.RemoveAll(tomb); err != nil {
		return false, m.destroyFailed(id, sandbox.StateDestroyFailed, fmt.Errorf("remove %s: %w", tomb, err))
	}
	if err := m.store.Delete(id); err != nil {
		return false, m.destroyFailed(id, sandbox.StateDestroyFailed, fmt.Errorf("delete descriptor: %w", err))
	}

	m.reg.Transition(id, sandbox.StateDestroyed)
	m.reg.Remove(id)

	log.Info("sandbox destroyed")
	_ = m.auditLog.LogEvent(audit.EventDestroy, id, "")
	return true, nil
}

func (m *Manager) destroyFailed(id string, to sandbox.State, cause error) error {
	m.reg.Transition(id, to, sandbox.StateDestroying)
	err := errors.DestructionFailed(id, cause)
	logging.ForSandbox(id).Error("sandbox destruction failed", "state", to, "error", cause)
	_ = m.auditLog.LogEvent(audit.EventError, id, err.Error())
	return err
}

// ClearAll destroys every registered sandbox in parallel. It reports true
// only if all of them were destroyed; in that case the shared sandboxes
// root and descriptors directory are also wiped and recreated. When any
// destroy fails nothing shared is touched, so the survivors stay intact.
func (m *Manager) ClearAll(ctx context.Context) (ok bool, err error) {
	ctx, span := tracer.Start(ctx, "clonebox.clear_all")
	defer func() { endSpan(span, err) }()

	snapshot := m.reg.Snapshot()
	span.SetAttributes(attribute.Int("clonebox.sandboxes", len(snapshot)))

	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(m.parallel)
	for _, sb := range snapshot {
		g.Go(func() error {
			if _, err := m.Destroy(ctx, sb.ID); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		logging.Warn("clear-all left sandboxes behind", "failed", len(errs), "total", len(snapshot))
		return false, errors.Join(errs...)
	}

	for _, dir := range []string{m.paths.SandboxesRoot, m.paths.DescriptorsDir} {
		if err := m.fs.RemoveAll(dir); err != nil {
			return false, fmt.Errorf("failed to wipe %s: %w", dir, err)
		}
		if err := m.fs.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("failed to recreate %s: %w", dir, err)
		}
	}

	logging.Info("cleared all sandboxes", "count", len(snapshot))
	return true, nil
}

// Get returns a copy of the sandbox with the given id.
func (m *Manager) Get(id string) (sandbox.Sandbox, bool) {
	return m.reg.Get(id)
}

// ListActive returns every sandbox that is not being torn down.
func (m *Manager) ListActive() []sandbox.Sandbox {
	var out []sandbox.Sandbox
	for _, sb := range m.reg.Snapshot() {
		if sb.Active && sb.State.Live() {
			out = append(out, sb)
		}
	}
	return out
}

// Count returns the number of registered sandboxes.
func (m *Manager) Count() int {
	return m.reg.Count()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
