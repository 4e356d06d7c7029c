package main

import (
	"context"
	"fmt"

	"github.com/kbukum/devflow/archive"
	_ "github.com/kbukum/devflow/archive/local"
	_ "github.com/kbukum/devflow/archive/minio"
	_ "github.com/kbukum/devflow/archive/s3"
	"github.com/kbukum/devflow/bootstrap"
	"github.com/kbukum/devflow/capability"
	"github.com/kbukum/devflow/event"
	"github.com/kbukum/devflow/executor"
	"github.com/kbukum/devflow/executor/docker"
	"github.com/kbukum/devflow/executor/local"
	"github.com/kbukum/devflow/executor/ssh"
	"github.com/kbukum/devflow/notify"
	"github.com/kbukum/devflow/observability"
	"github.com/kbukum/devflow/scheduler"
	"github.com/kbukum/devflow/server"
	"github.com/kbukum/devflow/session"
	"github.com/kbukum/devflow/sse"
	"github.com/kbukum/devflow/store"
	"github.com/kbukum/devflow/store/postgres"
	"github.com/kbukum/devflow/store/sqlite"
	"github.com/kbukum/devflow/version"
)

// stack is the wired devflow runtime.
type stack struct {
	router   *executor.Router
	caps     *capability.Registry
	repo     store.Repository
	sched    *scheduler.Scheduler
	sessions *session.Manager
	hub      *sse.Hub
	server   *server.Server
}

type wireOptions struct {
	// http mounts the API and streams events over SSE.
	http bool
}

// newExecutors builds the profile router. Docker and SSH are registered
// only when enabled. The returned hooks release executor clients.
func newExecutors(app *bootstrap.App[*Config]) (*executor.Router, []bootstrap.Hook) {
	cfg := app.Cfg.Executor
	router := executor.NewRouter(local.New(cfg.Config))
	var closers []bootstrap.Hook
	if cfg.Docker.Enabled {
		d := docker.New(cfg.Docker.Config, app.Logger)
		router.Register(executor.ProfileDocker, d)
		closers = append(closers, func(context.Context) error { return d.Close() })
	}
	if cfg.SSH.Enabled {
		router.Register(executor.ProfileSSH, ssh.New(cfg.SSH.Config))
	}
	return router, closers
}

// newStore returns the repository for cfg.Driver and registers it as a
// component when it holds a connection.
func newStore(app *bootstrap.App[*Config]) (store.Repository, error) {
	cfg := app.Cfg.Store
	switch cfg.Driver {
	case store.DriverSQLite:
		s := sqlite.New(cfg, app.Logger)
		return s, app.RegisterComponent(s)
	case store.DriverPostgres:
		s := postgres.New(cfg, app.Logger)
		return s, app.RegisterComponent(s)
	case store.DriverMemory:
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// wire registers components on app in start order and builds the session
// manager. Sessions shut down before any component stops so final reports
// still reach the store and the archive.
func wire(app *bootstrap.App[*Config], opts wireOptions) (*stack, error) {
	cfg := app.Cfg
	log := app.Logger
	st := &stack{}

	router, closers := newExecutors(app)
	st.router = router
	st.caps = capability.Builtins(st.router)
	if cfg.Notify.Enabled {
		hook, err := notify.NewWebhook(cfg.Notify, log)
		if err != nil {
			return nil, err
		}
		st.caps.Register(capability.TypeNotification, capability.Notification(hook))
	}

	repo, err := newStore(app)
	if err != nil {
		return nil, err
	}
	st.repo = repo

	st.sched = scheduler.New(cfg.Scheduler, st.caps,
		scheduler.WithCheckpoints(repo),
		scheduler.WithHistory(repo),
		scheduler.WithLogger(log),
	)

	observers := []event.Subscriber{event.NewLogSubscriber(log)}

	if cfg.Archive.Enabled {
		arch := archive.NewComponent(cfg.Archive, log)
		if err := app.RegisterComponent(arch); err != nil {
			return nil, err
		}
		observers = append(observers, arch)
	}

	if cfg.Observability.Tracing || cfg.Observability.Metrics {
		v := cfg.Version
		if v == "" {
			v = version.Get().Short()
		}
		obs, err := observability.NewComponent(cfg.Observability, cfg.Name, v, cfg.Environment, log)
		if err != nil {
			return nil, err
		}
		if err := app.RegisterComponent(obs); err != nil {
			return nil, err
		}
		observers = append(observers, obs)
	}

	if opts.http {
		sseComp := sse.NewComponent(server.APIPrefix+"/runs/:runID/events", log)
		if err := app.RegisterComponent(sseComp); err != nil {
			return nil, err
		}
		st.hub = sseComp.Hub()
		observers = append(observers, sse.NewSink(st.hub, log))
	}

	st.sessions = session.New(st.sched, st.caps, repo,
		session.WithObservers(observers...),
		session.WithLogger(log),
		session.WithWorkDir(cfg.Scheduler.WorkDir),
	)
	app.OnStop(st.sessions.Shutdown)
	app.OnStop(closers...)

	if opts.http {
		st.server = server.New(cfg.Server, log)
		st.server.ApplyDefaults(cfg.Name, app.Components.HealthAll)
		st.server.Probes().CountRuns(st.sessions.Running)
		server.NewAPI(st.sessions, st.hub, log).Register(st.server.GinEngine())
		if err := app.RegisterComponent(server.NewComponent(st.server)); err != nil {
			return nil, err
		}
	}
	return st, nil
}
