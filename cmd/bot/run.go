package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"stepbystep_bot/internal/catalog"
	"stepbystep_bot/internal/config"
	"stepbystep_bot/internal/engine"
	"stepbystep_bot/internal/feature/owner"
	"stepbystep_bot/internal/health"
	"stepbystep_bot/internal/hotreload"
	"stepbystep_bot/internal/logging"
	"stepbystep_bot/internal/payment"
	"stepbystep_bot/internal/payment/yookassa"
	"stepbystep_bot/internal/policy"
	"stepbystep_bot/internal/scheduler"
	"stepbystep_bot/internal/telegram"
	"stepbystep_bot/internal/telemetry"
)

const (
	healthShutdownTimeout    = 5 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

var errTelegramStopped = errors.New("telegram polling stopped unexpectedly")

func runBot(ctx context.Context, cfg config.Config, logger *logrus.Entry) error {
	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.WithError(err).Warn("telemetry shutdown failed")
		}
	}()

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackend(b, logger)

	sink := logging.NewSinkHook(b.logs, logging.DefaultSinkCapacity)
	logger.Logger.AddHook(sink)

	catalogs := catalog.NewStore(catalog.FileSource{Path: cfg.ScriptPath})
	policies := policy.NewStore(policy.FileSource{Path: cfg.SettingsPath}, cfg.Location)
	reloader := hotreload.New(logger, catalogs, policies)
	if err := reloader.Reload(ctx); err != nil {
		return fmt.Errorf("initial content load: %w", err)
	}

	if cfg.BotOwnerID != 0 {
		if err := owner.NewRegistrar(b.progress, logger).EnsureOwner(ctx, cfg.BotOwnerID); err != nil {
			return fmt.Errorf("owner bootstrap: %w", err)
		}
	}

	gateway, err := newGateway(cfg)
	if err != nil {
		return err
	}

	client, err := telegram.NewClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("telegram client: %w", err)
	}
	sender := client.Sender()

	eng, err := engine.New(b.progress, catalogs, policies, sender,
		engine.WithGateway(gateway),
		engine.WithCallTimeout(cfg.CallTimeout),
		engine.WithAdminPassword(cfg.AdminPassword),
		engine.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	router, err := telegram.NewRouter(eng, sender, logger)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}
	client.Attach(router)

	tasks := []scheduler.Task{
		{Name: "advance", Interval: cfg.AdvanceInterval, Run: eng.Advance},
		{Name: "reload", Interval: cfg.ReloadInterval, Run: reloader.Reload},
	}
	if cfg.PaymentsEnabled() {
		reconciler, err := payment.NewReconciler(b.progress, gateway, sender, policies,
			payment.WithCheckPause(cfg.PaymentCheckPause),
			payment.WithCallTimeout(cfg.CallTimeout),
			payment.WithLogger(logger),
		)
		if err != nil {
			return fmt.Errorf("payment reconciler: %w", err)
		}
		tasks = append(tasks, scheduler.Task{Name: "payments", Interval: cfg.PaymentPollInterval, Run: reconciler.Sweep})
	}

	runner, err := scheduler.NewRunner(logger, tasks...)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	healthServer := health.NewServer(cfg.HTTPPort, b.pinger, logger,
		health.WithStepCount(func() int { return catalogs.Current().Len() }),
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return sink.Run(groupCtx)
	})
	group.Go(func() error {
		client.Start(groupCtx)
		if groupCtx.Err() == nil {
			return errTelegramStopped
		}
		return nil
	})
	group.Go(func() error {
		return runner.Run(groupCtx)
	})
	group.Go(func() error {
		return healthServer.ListenAndServe()
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), healthShutdownTimeout)
		defer cancel()
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("health shutdown: %w", err)
		}
		return nil
	})

	logger.WithFields(logging.Fields{
		"event":     "bot_started",
		"steps":     catalogs.Current().Len(),
		"http_port": cfg.HTTPPort,
	}).Info("bot started")

	err = group.Wait()
	logger.WithField("event", "bot_stopped").Info("bot stopped")
	return err
}

func newGateway(cfg config.Config) (payment.Gateway, error) {
	if !cfg.PaymentsEnabled() {
		return payment.Disabled{}, nil
	}

	client, err := yookassa.NewClient(yookassa.Config{
		ShopID:      cfg.YooKassaShopID,
		SecretKey:   cfg.YooKassaSecretKey,
		ReturnURL:   cfg.YooKassaReturnURL,
		Amount:      cfg.PaymentAmount,
		Currency:    cfg.PaymentCurrency,
		Description: cfg.PaymentDescription,
	})
	if err != nil {
		return nil, fmt.Errorf("payment gateway: %w", err)
	}
	return client, nil
}
