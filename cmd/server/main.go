package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/bot"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/config"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/credits"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/ledger"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/orgs"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/plans"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/reset"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/txlog"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/users"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/infra/api"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/infra/db"
	httpx "github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/infra/http"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/infra/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/robfig/cron/v3"
)

func runMigrations(dsn string) error {
	sqlDB, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()
	return goose.Up(sqlDB, "migrations")
}

func main() {
	cfg, err := config.Load("config/example.yaml")
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.App.Env)

	if err := runMigrations(cfg.Postgres.DSN); err != nil {
		log.Error("migrations failed", "err", err)
		return
	}
	log.Info("migrations applied")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Error("db connect failed", "err", err)
		return
	}
	defer pool.Close()
	log.Info("db connected")

	ledgerRepo := ledger.NewRepo(pool)
	usersRepo := users.NewRepo(pool)
	orgsRepo := orgs.NewRepo(pool)
	txRepo := txlog.NewRepo(pool)
	plansRepo := plans.NewRepo(pool)

	orgsSvc := orgs.NewService(pool, orgsRepo, ledgerRepo)
	creditsSvc := credits.NewService(pool, orgsRepo, ledgerRepo, txRepo, log)
	plansSvc := plans.NewService(pool, plansRepo, ledgerRepo, txRepo, usersRepo, orgsRepo, log)
	sweeper := reset.NewSweeper(pool, ledgerRepo, txRepo, log)

	if cfg.Telegram.Token != "" {
		tg, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			log.Error("telegram init failed", "err", err)
			return
		}
		adminBot := bot.New(tg, log, plansSvc, txRepo, sweeper, cfg.Telegram.AdminChatID, cfg.Telegram.ReviewerID)
		plansSvc.SetNotifier(adminBot)
		go func() {
			if err := adminBot.Run(ctx, 30); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("bot stopped", "err", err)
			}
		}()
		log.Info("telegram bot started")
	}

	// кадансом сброса периодов управляет cron, сам sweeper таймера не держит
	c := cron.New()
	if _, err := c.AddFunc(cfg.Sweep.Cron, func() {
		sctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if res, err := sweeper.Sweep(sctx, time.Now()); err != nil {
			log.Error("reset sweep failed", "err", err)
		} else {
			log.Debug("reset sweep", "organizations", res.OrganizationsReset, "personal", res.PersonalReset)
		}
	}); err != nil {
		log.Error("cron schedule invalid", "cron", cfg.Sweep.Cron, "err", err)
		return
	}
	c.Start()
	defer c.Stop()

	handler := api.NewHandler(log, creditsSvc, orgsSvc, plansSvc, sweeper, txRepo, usersRepo)
	srv := httpx.New(cfg.HTTP.Addr, cfg.Metrics.Enabled, handler.Register)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
		}
	}()
	log.Info("HTTP server started", "addr", cfg.HTTP.Addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("graceful shutdown complete")
}
