// Package app wires the clonebox components together. Every process
// builds exactly one App; nothing in it is global.
package app

import (
	"context"
	"fmt"

	"github.com/firefly-engineering/clonebox/internal/audit"
	"github.com/firefly-engineering/clonebox/internal/config"
	"github.com/firefly-engineering/clonebox/internal/errors"
	"github.com/firefly-engineering/clonebox/internal/manager"
	"github.com/firefly-engineering/clonebox/internal/network"
	"github.com/firefly-engineering/clonebox/internal/policy"
	"github.com/firefly-engineering/clonebox/internal/quota"
	"github.com/firefly-engineering/clonebox/internal/registry"
	"github.com/firefly-engineering/clonebox/internal/resolve"
	"github.com/firefly-engineering/clonebox/internal/storage"
	"github.com/firefly-engineering/clonebox/internal/system"
	"github.com/firefly-engineering/clonebox/internal/workload"
)

// App holds the application dependencies
type App struct {
	Paths      *config.Paths
	HostConfig *config.HostConfig
	FS         system.FileSystem
	Executor   system.CommandExecutor

	Registry *registry.Registry
	Profiles *policy.ProfileSet
	Audit    *audit.Logger
	Manager  *manager.Manager
	Monitor  *quota.Monitor
	Resolver *resolve.Resolver

	lookup        network.LookupFunc
	memorySampler quota.MemorySampler
}

// Option is a function that configures the App
type Option func(*App)

// WithPaths sets custom paths
func WithPaths(paths *config.Paths) Option {
	return func(a *App) {
		a.Paths = paths
	}
}

// WithHostConfig sets a host config instead of loading config.toml.
func WithHostConfig(cfg *config.HostConfig) Option {
	return func(a *App) {
		a.HostConfig = cfg
	}
}

// WithFileSystem sets the file system every component goes through.
func WithFileSystem(fsys system.FileSystem) Option {
	return func(a *App) {
		a.FS = fsys
	}
}

// WithExecutor sets the executor used by the workload terminator.
func WithExecutor(exec system.CommandExecutor) Option {
	return func(a *App) {
		a.Executor = exec
	}
}

// WithHostLookup sets the resolver for network allow-lists.
func WithHostLookup(lookup network.LookupFunc) Option {
	return func(a *App) {
		a.lookup = lookup
	}
}

// WithMemorySampler replaces the monitor's memory sampler.
func WithMemorySampler(s quota.MemorySampler) Option {
	return func(a *App) {
		a.memorySampler = s
	}
}

// New builds an App. The host config is loaded from Paths.ConfigDir
// unless one is supplied.
func New(opts ...Option) (*App, error) {
	a := &App{
		Paths:    config.DefaultPaths(),
		FS:       system.DefaultFS(),
		Executor: system.DefaultExecutor(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.HostConfig == nil {
		cfg, err := config.LoadHostConfig(a.Paths.ConfigDir)
		if err != nil {
			return nil, errors.ConfigError("failed to load host config", err)
		}
		a.HostConfig = cfg
	}
	cfg := a.HostConfig

	profiles, err := policy.LoadProfiles(a.Paths.PoliciesDir)
	if err != nil {
		return nil, errors.ConfigError("failed to load security profiles", err)
	}
	a.Profiles = profiles

	term, err := workload.New(a.Executor, cfg.Workload.TerminateCommand)
	if err != nil {
		return nil, errors.ConfigError("invalid workload.terminate_command", err)
	}

	a.Audit = audit.NewLogger(a.Paths.AuditDir)
	a.Registry = registry.New()
	a.Manager = manager.New(a.Paths, a.FS, a.Registry,
		manager.WithTerminator(term),
		manager.WithAuditLogger(a.Audit),
		manager.WithClearParallelism(cfg.Manager.ClearParallelism),
		manager.WithHostLookup(a.lookup),
	)

	cleaner := storage.NewCleaner(a.FS, storage.WithRetention(cfg.Storage.LogRetention.Duration))
	monitorOpts := []quota.Option{
		quota.WithInterval(cfg.Monitor.Interval.Duration),
		quota.WithWarningBuffer(cfg.Monitor.WarningBuffer),
		quota.WithAuditLogger(a.Audit),
	}
	if a.memorySampler != nil {
		monitorOpts = append(monitorOpts, quota.WithMemorySampler(a.memorySampler))
	}
	a.Monitor = quota.New(a.Registry, cleaner, monitorOpts...)
	a.Resolver = resolve.New(a.Registry)

	return a, nil
}

// Open prepares the state directories and loads persisted sandboxes. It
// must run before the App serves any request.
func (a *App) Open(ctx context.Context) error {
	if err := a.Paths.EnsureStateDirs(); err != nil {
		return errors.ConfigError("failed to prepare state directories", err)
	}
	if _, err := a.Manager.Rehydrate(ctx); err != nil {
		return fmt.Errorf("failed to load sandboxes: %w", err)
	}
	return nil
}

// CreateRequest builds a manager request. An explicit isolation wins.
// A named profile brings its own isolation level; with no profile the
// host defaults supply both.
func (a *App) CreateRequest(cloneID, packageName, isolation, profile string) (manager.CreateRequest, error) {
	defaults := a.HostConfig.Defaults
	named := profile != ""
	if !named {
		profile = defaults.Profile
	}
	prof, err := a.Profiles.Get(profile)
	if err != nil {
		return manager.CreateRequest{}, errors.ValidationError(err.Error())
	}

	switch {
	case isolation != "":
	case named:
		isolation = prof.Isolation.String()
	default:
		isolation = defaults.Isolation
	}
	level, err := policy.ParseIsolationLevel(isolation)
	if err != nil {
		return manager.CreateRequest{}, errors.ValidationError(err.Error())
	}

	p := prof.Policy
	return manager.CreateRequest{
		CloneID:     cloneID,
		PackageName: packageName,
		Isolation:   level,
		Policy:      &p,
	}, nil
}
