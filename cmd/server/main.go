// Command server runs the SLA deadline and escalation engine: the sweep
// scheduler plus the operational HTTP surface.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/opendesk-io/opendesk-ce/internal/api"
	"github.com/opendesk-io/opendesk-ce/internal/cache"
	"github.com/opendesk-io/opendesk-ce/internal/config"
	"github.com/opendesk-io/opendesk-ce/internal/database"
	"github.com/opendesk-io/opendesk-ce/internal/metrics"
	"github.com/opendesk-io/opendesk-ce/internal/repository"
	"github.com/opendesk-io/opendesk-ce/internal/services/escalation"
	"github.com/opendesk-io/opendesk-ce/internal/services/sla"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "opendesk-sla",
		Short: "SLA deadline and escalation engine",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	root.AddCommand(serveCmd(), sweepCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// engine bundles everything the commands need after wiring.
type engine struct {
	monitor  *sla.Monitor
	tracker  *sla.Tracker
	manager  *escalation.Manager
	escRepo  repository.EscalationRepository
	policies repository.SLAPolicyRepository
	registry *prometheus.Registry
	logger   *log.Logger
	closers  []func() error
}

func (e *engine) close() {
	for _, c := range e.closers {
		if err := c(); err != nil {
			e.logger.Printf("shutdown: %v", err)
		}
	}
}

func buildEngine(cfg *config.Config) (*engine, error) {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sweepMetrics := metrics.NewSweepMetrics(registry)

	settings := repository.NewSQLSettingsStore(db)
	tickets := repository.NewSQLTicketStore(db)
	users := repository.NewSQLUserDirectory(db)
	tracking := repository.NewSQLSLATrackingRepository(db)
	policies := repository.NewSQLSLAPolicyRepository(db)
	escalations := repository.NewSQLEscalationRepository(db)
	notifier := repository.NewSQLNotificationSink(db)

	calendars := sla.NewCalendarProvider(settings,
		sla.WithTTL(cfg.SLA.SettingsTTL),
		sla.WithLogger(logger),
	)
	deadlines := sla.NewDeadlineCalculator(calendars)
	tracker := sla.NewTracker(tracking, tickets, deadlines, logger)

	manager := escalation.NewManager(tickets, users, escalations, notifier,
		escalation.WithTargetRole(cfg.SLA.EscalationRole),
		escalation.WithLogger(logger),
	)

	monitorOpts := []sla.MonitorOption{
		sla.WithWarningWindow(time.Duration(cfg.SLA.WarningWindowMinutes) * time.Minute),
		sla.WithSweepLogger(logger),
		sla.WithSweepMetrics(sweepMetrics),
	}

	e := &engine{
		tracker:  tracker,
		manager:  manager,
		escRepo:  escalations,
		policies: policies,
		registry: registry,
		logger:   logger,
		closers:  []func() error{db.Close},
	}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Passwd,
			DB:       cfg.Redis.DB,
		})
		lock := cache.NewSweepLock(client, "opendesk:sla:sweep", cfg.SLA.LockTTL)
		monitorOpts = append(monitorOpts, sla.WithRunLock(lock))
		e.closers = append(e.closers, client.Close)
	}

	e.monitor = sla.NewMonitor(tracking, tickets, notifier, manager, monitorOpts...)
	return e, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sweep scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			eng, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer eng.close()

			scheduler := cron.New()
			_, err = scheduler.AddFunc(cfg.SLA.SweepSchedule, func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				defer cancel()
				if _, err := eng.monitor.Sweep(ctx); err != nil && err != sla.ErrSweepInProgress {
					eng.logger.Printf("scheduled sweep: %v", err)
				}
			})
			if err != nil {
				return fmt.Errorf("schedule sweep %q: %w", cfg.SLA.SweepSchedule, err)
			}
			scheduler.Start()
			defer scheduler.Stop()

			if configPath != "" {
				err := config.Watch(configPath, func(next *config.Config) {
					// Engine wiring is fixed for the process lifetime; flag
					// changes that need a restart to take effect.
					if next.SLA.SweepSchedule != cfg.SLA.SweepSchedule {
						eng.logger.Printf("config changed: sweep schedule now %q, restart to apply", next.SLA.SweepSchedule)
					}
				})
				if err != nil {
					eng.logger.Printf("config watch: %v", err)
				}
			}

			server := &api.Server{
				Tracker:     eng.tracker,
				Monitor:     eng.monitor,
				Escalation:  eng.manager,
				Escalations: eng.escRepo,
				Policies:    eng.policies,
				Registry:    eng.registry,
			}
			httpServer := &http.Server{
				Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
				Handler: server.Router(),
			}

			errCh := make(chan error, 1)
			go func() {
				eng.logger.Printf("listening on %s", httpServer.Addr)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-stop:
				eng.logger.Printf("received %s, shutting down", sig)
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(ctx)
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one SLA sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			eng, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer eng.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			result, err := eng.monitor.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("sweep %s: %d warnings, %d breaches, %d failures in %s\n",
				result.RunID, result.Warnings, result.Breaches, result.Failures, result.Duration)
			return nil
		},
	}
}
