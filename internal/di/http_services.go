package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/samber/do/v2"

	"github.com/omarluq/flow-relay/internal/proxy"
	"github.com/omarluq/flow-relay/internal/scheduler"
)

// SchedulerService wraps the background task supervisor. Tasks are always
// registered so they can be run on demand; Start honors scheduler.enabled.
type SchedulerService struct {
	Supervisor *scheduler.Supervisor
	enabled    bool
}

// NewScheduler registers the unban, refresh and flush tasks.
func NewScheduler(i do.Injector) (*SchedulerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	tokenSvc := do.MustInvoke[*TokenService](i)
	browserSvc := do.MustInvoke[*BrowserService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)

	log := loggerSvc.Component("scheduler")
	sup := scheduler.NewSupervisor(log)

	var keepAlive scheduler.KeepAliver
	if browserSvc.Enabled {
		keepAlive = browserSvc.Browser
	}

	cfg := cfgSvc.Get().Scheduler
	m := tokenSvc.Manager
	for _, r := range []struct {
		task scheduler.Task
		spec scheduler.Spec
	}{
		{scheduler.UnbanTask(m, log), cfg.UnbanSpec()},
		{scheduler.RefreshTask(m, keepAlive, log), cfg.RefreshSpec()},
		{scheduler.FlushTask(m), cfg.FlushSpec()},
	} {
		if err := sup.Register(r.task, r.spec); err != nil {
			return nil, fmt.Errorf("failed to register task %s: %w", r.task.Name(), err)
		}
	}

	return &SchedulerService{Supervisor: sup, enabled: cfg.IsEnabled()}, nil
}

// Start launches the periodic loops when scheduling is enabled.
func (s *SchedulerService) Start() bool {
	if !s.enabled {
		return false
	}
	s.Supervisor.Start()
	return true
}

// Shutdown implements do.Shutdowner.
func (s *SchedulerService) Shutdown() error {
	s.Supervisor.Stop()
	return nil
}

// HandlerService wraps the HTTP handler.
type HandlerService struct {
	Handler http.Handler
	Admin   *proxy.Admin
}

// NewHandler builds the router with the generation and admin APIs.
func NewHandler(i do.Injector) (*HandlerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)
	genSvc := do.MustInvoke[*GenerationService](i)
	tokenSvc := do.MustInvoke[*TokenService](i)
	concSvc := do.MustInvoke[*ConcurrencyService](i)
	trackerSvc := do.MustInvoke[*HealthTrackerService](i)
	schedSvc := do.MustInvoke[*SchedulerService](i)
	settingsSvc := do.MustInvoke[*SettingsService](i)

	var circuits proxy.CircuitView
	if trackerSvc.Tracker != nil {
		circuits = trackerSvc.Tracker
	}

	admin := proxy.NewAdmin(tokenSvc.Manager, concSvc.Controller, circuits, schedSvc.Supervisor, settingsSvc.Settings)
	handler := proxy.NewRouter(proxy.RouterDeps{
		Config:    cfgSvc,
		Logger:    loggerSvc.Logger,
		Generator: genSvc.Orchestrator,
		Admin:     admin,
	})

	return &HandlerService{Handler: handler, Admin: admin}, nil
}

// ServerService wraps the HTTP server.
type ServerService struct {
	Server *proxy.Server
}

// NewHTTPServer creates the HTTP server. Listen address and h2c need a
// restart to change.
func NewHTTPServer(i do.Injector) (*ServerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	handlerSvc := do.MustInvoke[*HandlerService](i)

	cfg := cfgSvc.Get()
	server := proxy.NewServer(cfg.Server.GetListen(), handlerSvc.Handler, cfg.Server.EnableHTTP2)

	return &ServerService{Server: server}, nil
}

// Shutdown implements do.Shutdowner for graceful server shutdown.
func (s *ServerService) Shutdown() error {
	if s.Server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.Server.Shutdown(ctx)
	}
	return nil
}
