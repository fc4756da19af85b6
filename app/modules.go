package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	kitlog "github.com/go-kit/log"
	"github.com/grafana/dskit/modules"
	"github.com/grafana/dskit/server"
	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"

	"github.com/zachfi/minicast/modules/engine"
	"github.com/zachfi/minicast/modules/source"
)

const (
	Server string = "server"

	Engine string = "engine"
	Source string = "source"

	All string = "all"
)

func (a *App) setupModuleManager() error {
	mm := modules.NewManager(kitlog.NewLogfmtLogger(os.Stderr))
	mm.RegisterModule(Server, a.initServer, modules.UserInvisibleModule)

	mm.RegisterModule(Engine, a.initEngine)
	mm.RegisterModule(Source, a.initSource)

	mm.RegisterModule(All, nil)

	deps := map[string][]string{
		// Server:       nil,
		Engine: {Server},
		Source: {Engine},

		All: {Source},
	}

	for mod, targets := range deps {
		if err := mm.AddDependency(mod, targets...); err != nil {
			return err
		}
	}

	a.ModuleManager = mm

	return nil
}

func (a *App) initEngine() (services.Service, error) {
	cfg := a.cfg.Engine

	var opts []engine.Option
	if cfg.StateFile != "" {
		store := engine.NewFileStore(cfg.StateFile)

		saved, err := store.Load()
		switch {
		case err == nil:
			saved.StateFile = cfg.StateFile
			cfg = saved
			a.logger.Info("loaded engine state", "file", cfg.StateFile)
		case os.IsNotExist(err):
		default:
			return nil, errors.Wrap(err, "failed to load engine state")
		}

		opts = append(opts, engine.WithStore(store))
	}

	e, err := engine.New(cfg, a.logger, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to init "+Engine)
	}

	e.RegisterRoutes(a.Server.HTTP)
	a.engine = e

	return e, nil
}

func (a *App) initSource() (services.Service, error) {
	s, err := source.New(a.cfg.Source, a.engine, a.logger)
	if err != nil {
		return nil, errors.Wrap(err, "unable to init "+Source)
	}

	return s, nil
}

func (a *App) initServer() (services.Service, error) {
	a.cfg.Server.MetricsNamespace = metricsNamespace
	a.cfg.Server.ExcludeRequestInLog = true
	a.cfg.Server.RegisterInstrumentation = true
	a.cfg.Server.Log = kitlog.NewLogfmtLogger(os.Stderr)

	server, err := server.New(a.cfg.Server)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create server")
	}

	servicesToWaitFor := func() []services.Service {
		svs := []services.Service(nil)
		for m, s := range a.serviceMap {
			// Server should not wait for itself.
			if m != Server {
				svs = append(svs, s)
			}
		}

		return svs
	}

	a.Server = server

	serverDone := make(chan error, 1)

	runFn := func(ctx context.Context) error {
		go func() {
			defer close(serverDone)
			serverDone <- server.Run()
		}()

		select {
		case <-ctx.Done():
			return nil
		case err := <-serverDone:
			if err != nil {
				return err
			}

			return fmt.Errorf("server stopped unexpectedly")
		}
	}

	stoppingFn := func(_ error) error {
		// wait until all modules are done, and then shutdown server.
		for _, s := range servicesToWaitFor() {
			_ = s.AwaitTerminated(context.Background())
		}

		// shutdown HTTP and gRPC servers (this also unblocks Run)
		server.Shutdown()

		// if not closed yet, wait until server stops.
		<-serverDone
		slog.Info("server stopped")
		return nil
	}

	return services.NewBasicService(nil, runFn, stoppingFn), nil
}
