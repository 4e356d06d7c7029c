// Package bootstrap runs a devflow process through its lifecycle.
//
// An App owns the typed config, the logger and the component registry.
// Components start in registration order, OnConfigure callbacks wire the
// session layer on top of them, and shutdown stops everything in reverse.
//
//	app, err := bootstrap.NewApp(&cfg)
//	app.RegisterComponent(store)
//	app.OnConfigure(func(ctx context.Context, a *bootstrap.App[*Config]) error {
//	    return sessions.LoadDir(a.Cfg.FlowsDir)
//	})
//	err = app.Run(ctx)
//
// Run blocks until SIGINT/SIGTERM and suits "devflow serve". RunTask runs
// one finite task, cancelling it on a signal, and suits "devflow run".
package bootstrap
