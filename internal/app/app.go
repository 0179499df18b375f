package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hearthside/household-scheduler/internal/api"
	"github.com/hearthside/household-scheduler/internal/config"
	"github.com/hearthside/household-scheduler/internal/conflict"
	"github.com/hearthside/household-scheduler/internal/enrich"
	"github.com/hearthside/household-scheduler/internal/recurrence"
	"github.com/hearthside/household-scheduler/internal/security"
	"github.com/hearthside/household-scheduler/internal/store"
	"github.com/hearthside/household-scheduler/internal/task"
)

// Application wires the store, the four core components and the HTTP
// surface together, and owns the periodic maintenance ticks (the core
// itself is synchronous; cron is the external trigger).
type Application struct {
	cfg          config.Config
	storage      *store.Store
	expander     *recurrence.Expander
	detector     *conflict.Detector
	conflicts    *conflict.Manager
	orchestrator *task.Orchestrator
	logger       *slog.Logger
}

func New(cfg config.Config, storage *store.Store, logger *slog.Logger) *Application {
	if logger == nil {
		logger = slog.Default()
	}
	expander := recurrence.New(storage.Events, logger)
	detector := conflict.NewDetector(conflict.DetectorOptions{
		Events: storage.Events,
		Tasks:  storage.Tasks,
		Logger: logger,
	})
	manager := conflict.NewManager(storage.Conflicts, storage.Events, logger)

	var enricher enrich.Service = enrich.Noop{}
	if cfg.EnrichmentURL != "" {
		enricher = enrich.NewClient(cfg.EnrichmentURL, cfg.EnrichmentTimeout)
	}
	orchestrator := task.NewOrchestrator(task.Options{
		Tasks:    storage.Tasks,
		Events:   storage.Events,
		Enricher: enricher,
		Logger:   logger,
	})

	return &Application{
		cfg:          cfg,
		storage:      storage,
		expander:     expander,
		detector:     detector,
		conflicts:    manager,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

func (a *Application) Run(ctx context.Context) error {
	server := api.New(api.Options{
		Expander:     a.expander,
		Detector:     a.detector,
		Conflicts:    a.conflicts,
		Orchestrator: a.orchestrator,
		Events:       a.storage.Events,
		Auth: security.BearerAuth{
			Enabled: a.cfg.RequireToken,
			Token:   a.cfg.BearerToken,
		},
		CalendarName: a.cfg.CalendarName,
		Logger:       a.logger,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	wg := sync.WaitGroup{}

	if a.cfg.BindAddress != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.ServeTCP(ctx, a.cfg.BindAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("tcp server: %w", err)
			}
		}()
	}
	if a.cfg.UnixSocketPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.ServeUnix(ctx, a.cfg.UnixSocketPath); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("unix server: %w", err)
			}
		}()
	}

	sched, err := a.startMaintenance(ctx)
	if err != nil {
		cancel()
		wg.Wait()
		return err
	}

	select {
	case err := <-errCh:
		cancel()
		stopCron(sched)
		wg.Wait()
		return err
	case <-ctx.Done():
		stopCron(sched)
		wg.Wait()
		return nil
	}
}

// startMaintenance schedules the periodic re-expansion and re-detection
// sweeps. Both are idempotent under the store's uniqueness constraints, so
// an overlapping or repeated tick is harmless.
func (a *Application) startMaintenance(ctx context.Context) (*cron.Cron, error) {
	if a.cfg.MaintenanceSpec == "" {
		return nil, nil
	}
	sched := cron.New()
	_, err := sched.AddFunc(a.cfg.MaintenanceSpec, func() {
		a.Maintain(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("maintenance schedule %q: %w", a.cfg.MaintenanceSpec, err)
	}
	sched.Start()
	a.logger.Info("maintenance scheduled", "spec", a.cfg.MaintenanceSpec)
	return sched, nil
}

// Maintain runs one maintenance pass: generate missing instances for every
// recurring template, then detect and record conflicts over the configured
// window.
func (a *Application) Maintain(ctx context.Context) {
	results, err := a.expander.ExpandAll(ctx, a.cfg.ExpandDaysAhead)
	if err != nil {
		a.logger.Error("expansion sweep failed", "error", err)
	} else {
		created := 0
		for _, r := range results {
			created += r.Created
		}
		a.logger.Info("expansion sweep complete", "templates", len(results), "instances_created", created)
	}

	from := time.Now()
	to := from.Add(time.Duration(a.cfg.DetectWindowHours) * time.Hour)
	candidates, err := a.detector.Detect(ctx, from, to)
	if err != nil {
		a.logger.Error("detection sweep failed", "error", err)
		return
	}
	created, err := a.conflicts.RecordAll(ctx, candidates)
	if err != nil {
		a.logger.Error("conflict recording failed", "error", err)
		return
	}
	a.logger.Info("detection sweep complete", "candidates", len(candidates), "new_active", created)
}

func stopCron(sched *cron.Cron) {
	if sched != nil {
		<-sched.Stop().Done()
	}
}
