package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"home-tasks/internal/alert"
	"home-tasks/internal/bot"
	"home-tasks/internal/config"
	"home-tasks/internal/gate"
	"home-tasks/internal/logging"
	"home-tasks/internal/opsserver"
	"home-tasks/internal/repository"
	"home-tasks/internal/scheduler"
	"home-tasks/internal/service"
)

const shutdownTimeout = 15 * time.Second

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "hometasks",
	Short:         "Telegram task manager with reminders and a daily digest",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot and the notification scheduler",
	RunE:  runBot,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	RunE:  runMigrate,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
}

func setup() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, zerolog.Nop(), fmt.Errorf("config: %w", err)
	}
	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return cfg, log, nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	db, err := repository.NewDB(cfg.Database.URL, log)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	closeDB(db, log)
	log.Info().Msg("schema is up to date")
	return nil
}

func runBot(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repository.NewDB(cfg.Database.URL, log)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer closeDB(db, log)

	userRepo := repository.NewUserRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	ruleRepo := repository.NewRecurrenceRuleRepository(db)
	reminderRepo := repository.NewReminderRepository(db)

	var parser service.TextParser
	if cfg.LLM.APIKey != "" {
		llm, err := service.NewLLMParser(service.LLMConfig{BaseURL: cfg.LLM.BaseURL, APIKey: cfg.LLM.APIKey, Model: cfg.LLM.Model})
		if err != nil {
			return fmt.Errorf("llm parser: %w", err)
		}
		parser = llm
	} else {
		log.Info().Msg("llm parser disabled, free text is stored as is")
	}

	userSvc := service.NewUserService(userRepo, service.UserDefaults{
		Timezone:   cfg.Users.DefaultTimezone,
		QuietFrom:  cfg.Users.QuietFrom,
		QuietTo:    cfg.Users.QuietTo,
		DigestTime: cfg.Users.DigestTime,
	})
	taskSvc := service.NewTaskService(taskRepo, ruleRepo, parser, log)
	reminderSvc := service.NewReminderService(taskSvc)

	api, err := bot.Connect(cfg.Telegram.Token, log)
	if err != nil {
		return err
	}
	sink := bot.NewSink(api)
	alerts := alert.New(sink, cfg.Telegram.AdminIDs, alert.Config{
		DedupWindow: cfg.Alerts.DedupWindow,
		RatePerSec:  cfg.Alerts.RatePerSec,
	}, log)

	telegramBot := bot.New(api, bot.Deps{
		Users:  userSvc,
		Tasks:  taskSvc,
		Digest: reminderSvc,
		Sink:   sink,
		Alerts: alerts,
	}, cfg.Telegram.AllowedIDs, log)

	var gateStore gate.Store = gate.NewMemory()
	if cfg.Scheduler.DurableGate {
		gateStore = repository.NewGateRepository(db)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sched := scheduler.New(scheduler.Deps{
		Reminders: reminderRepo,
		Tasks:     taskRepo,
		Users:     userRepo,
		Digests:   reminderSvc,
		Gate:      gate.New(gateStore),
		Sink:      sink,
		Alerts:    alerts,
	}, scheduler.Config{
		DeliveryTimeout: cfg.Scheduler.DeliveryTimeout,
		DigestWindow:    cfg.Scheduler.DigestWindow,
		OverdueOffset:   cfg.Scheduler.OverdueOffset,
		Workers:         cfg.Scheduler.Workers,
	}, log, scheduler.WithMetrics(scheduler.NewMetrics(reg)))

	runner := scheduler.NewRunner(time.UTC, log)
	// Ticks outlive a shutdown signal so an in-flight delivery can finish.
	tickCtx := context.WithoutCancel(ctx)
	if _, err := runner.ScheduleInterval(cfg.Scheduler.TickInterval, func() { sched.Tick(tickCtx) }); err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}
	if _, err := runner.ScheduleDaily(cfg.Scheduler.PruneAt, func() {
		cutoff := time.Now().Add(-cfg.Scheduler.PruneAfter)
		n, err := reminderRepo.PruneFinished(tickCtx, cutoff)
		if err != nil {
			alerts.Notify(tickCtx, err, "prune reminders", 0)
			return
		}
		log.Info().Int64("removed", n).Msg("finished reminders pruned")
	}); err != nil {
		return fmt.Errorf("schedule prune: %w", err)
	}
	runner.Start()

	var ops *opsserver.Server
	if cfg.Ops.Addr != "" {
		ops = opsserver.New(cfg.Ops.Addr, reg, map[string]opsserver.Check{
			"db": func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
		}, log)
		go func() {
			if err := ops.Start(); err != nil {
				log.Error().Err(err).Msg("ops server stopped")
				stop()
			}
		}()
	}

	notifySystemd(log, daemon.SdNotifyReady)
	log.Info().Str("version", version).Msg("home tasks bot started")

	botErr := telegramBot.Start(ctx)

	notifySystemd(log, daemon.SdNotifyStopping)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := runner.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("scheduler did not stop in time")
	}
	if ops != nil {
		if err := ops.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("ops server shutdown")
		}
	}

	if botErr != nil && !errors.Is(botErr, context.Canceled) {
		return fmt.Errorf("bot stopped with error: %w", botErr)
	}
	log.Info().Msg("shutdown complete")
	return nil
}

func notifySystemd(log zerolog.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn().Err(err).Msg("sd_notify")
		return
	}
	if sent {
		log.Debug().Str("state", state).Msg("sd_notify sent")
	}
}

func closeDB(db *gorm.DB, log zerolog.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn().Err(err).Msg("close db")
	}
}
