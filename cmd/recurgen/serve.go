package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"recurring-planner/internal/api"
	"recurring-planner/internal/bot"
	"recurring-planner/internal/service"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the generation schedule and the Telegram bot",
	Long: `Starts the HTTP API on http_addr and schedules generation daily at
generate_at (or on generate_cron). The Telegram bot runs when telegram_token is set.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.close()

	gen := newGenerationService(be)
	templates := service.NewTemplateService(be.store, be.categories, logger).WithWeekStart(cfg.WeekStartDay())
	agenda := service.NewAgendaService(be.store, be.categories)

	scheduler := service.NewSchedulerService(cfg.Location(), logger)
	job := service.GenerationJob(ctx, gen, time.Now, cfg.BatchTimeout, logger.Named("scheduler"))
	var (
		entry cron.EntryID
		when  = zap.String("at", cfg.GenerateAt)
	)
	if cfg.GenerateCron != "" {
		entry, err = scheduler.ScheduleSpec(cfg.GenerateCron, job)
		when = zap.String("cron", cfg.GenerateCron)
	} else {
		entry, err = scheduler.ScheduleDaily(cfg.GenerateAt, job)
	}
	if err != nil {
		return fmt.Errorf("schedule generation: %w", err)
	}

	var telegramBot *bot.Bot
	if cfg.TelegramToken != "" {
		telegramBot, err = bot.New(cfg, be.users, templates, agenda, gen, logger)
		if err != nil {
			return fmt.Errorf("bot: %w", err)
		}
	} else {
		logger.Info("telegram token not set, bot disabled")
	}

	scheduler.Start()
	defer scheduler.Stop()
	logger.Info("generation scheduled", when, zap.Time("next", scheduler.Next(entry)))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewServer(gen, templates, logger,
			api.WithLocation(cfg.Location()),
			api.WithBatchTimeout(cfg.BatchTimeout),
		).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if telegramBot != nil {
		g.Go(func() error {
			return telegramBot.Start(ctx)
		})
	}

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}
