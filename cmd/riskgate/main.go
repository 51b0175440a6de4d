package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ducminhle1904/risk-gate/cmd/common"
	"github.com/ducminhle1904/risk-gate/internal/api"
	"github.com/ducminhle1904/risk-gate/internal/audit"
	"github.com/ducminhle1904/risk-gate/internal/breaker"
	"github.com/ducminhle1904/risk-gate/internal/config"
	"github.com/ducminhle1904/risk-gate/internal/exchange/bybit"
	"github.com/ducminhle1904/risk-gate/internal/killswitch"
	"github.com/ducminhle1904/risk-gate/internal/logger"
	"github.com/ducminhle1904/risk-gate/internal/monitoring"
	"github.com/ducminhle1904/risk-gate/internal/notifications"
	"github.com/ducminhle1904/risk-gate/internal/positions"
	"github.com/ducminhle1904/risk-gate/internal/reservation"
	"github.com/ducminhle1904/risk-gate/internal/risk"
	"github.com/ducminhle1904/risk-gate/internal/safety"
	"github.com/ducminhle1904/risk-gate/internal/state"
)

func main() {
	fs := flag.NewFlagSet("riskgate", flag.ExitOnError)
	flags := common.RegisterCommonFlags(fs)
	_ = fs.Parse(os.Args[1:])

	if *flags.Version {
		common.PrintVersion(os.Stdout, "riskgate")
		return
	}

	if err := common.LoadEnvFile(*flags.EnvFile); err != nil {
		log.Printf("Warning: %v", err)
	}

	cfg, err := config.Load(*flags.Config)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("riskgate: %v", err)
	}
}

func run(cfg *config.Config) error {
	lg, logCloser, err := logger.New(logger.Options{Level: cfg.Log.Level, Dir: cfg.Log.Dir, Service: "riskgate", Stdout: true})
	if err != nil {
		return err
	}
	defer logCloser.Close()
	lg.WithField("environment", cfg.Environment).Info("risk gate starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := state.NewRedisClient(state.RedisOptions{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	defer client.Close()
	if err := state.Ping(ctx, client); err != nil {
		// The gate still starts and rejects every order until the store is back.
		lg.WithError(err).Error("coordination store unreachable at startup")
	}

	sink, closers, err := openAudit(ctx, cfg.Audit, lg)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	var notifier notifications.Notifier = notifications.Nop{}
	if cfg.Telegram.Token != "" {
		notifier = notifications.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID)
	}
	reporter := audit.Reporter{Log: lg, Sink: sink, Notifier: notifier}

	store := state.NewRedisStore(client)
	ks := killswitch.New(store, killswitch.Options{Key: cfg.KillSwitch.Key, Reporter: reporter})
	br := breaker.New(store, breaker.Config{
		Key:                 cfg.Breaker.Key,
		LossThresholdPct:    cfg.Breaker.LossThresholdPct,
		VolatilityThreshold: cfg.Breaker.VolatilityThreshold,
		CoolDown:            cfg.Breaker.CoolDown,
		HealthyEvaluations:  cfg.Breaker.HealthyEvaluations,
	}, reporter, nil)
	_ = verifyRecords(ctx, lg, ks, br)

	ledger := positions.NewLedger(lg)
	reserver := reservation.New(client, reservation.Options{
		Prefix:  cfg.Reservation.Prefix,
		TTL:     cfg.Reservation.TTL,
		Timeout: cfg.Reservation.Timeout,
		Sink:    ledger,
		Log:     lg,
	})
	if err := reserver.Preload(ctx); err != nil {
		lg.WithError(err).Warn("failed to preload reservation scripts")
	}
	go reservation.NewReaper(reserver, cfg.Reservation.ReapInterval).Run(ctx)

	health := monitoring.NewHealthChecker(time.Second)
	health.Register("redis", func(ctx context.Context) error { return state.Ping(ctx, client) })
	health.Register("kill_switch", func(ctx context.Context) error { _, err := ks.Status(ctx); return err })
	health.Register("breaker", func(ctx context.Context) error { _, err := br.Status(ctx); return err })

	if cfg.Exchange.Enabled {
		syncer := positions.NewSyncer(bybit.NewClient(bybit.Config{
			APIKey:    cfg.Exchange.APIKey,
			APISecret: cfg.Exchange.APISecret,
			Testnet:   cfg.Exchange.Testnet,
			Demo:      cfg.Exchange.Demo,
			Category:  cfg.Exchange.Category,
		}), reserver, positions.Options{
			Symbols:   cfg.Exchange.Symbols,
			Precision: cfg.Reservation.QuantityPrecision,
			Interval:  cfg.Exchange.SyncInterval,
			Log:       lg,
		})
		health.Register("positions", syncer.Healthy)
		go syncer.Run(ctx)
	}

	checker, err := newChecker(cfg, ks, br, reserver, sink, lg)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewServer(api.Deps{
			Gate:         checker,
			KillSwitch:   ks,
			Breaker:      br,
			Reservations: reserver,
			Health:       health,
			Metrics:      monitoring.NewMetricsHandler(),
			Log:          lg,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errs := make(chan error, 1)
	go func() {
		lg.WithField("addr", cfg.Server.Addr).Info("serving")
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		lg.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// verifyRecords reads the halt-flag records once at startup. The gate never
// creates them: a missing or unreadable record is logged CRITICAL and every
// order is rejected until an operator runs `riskctl init`.
func verifyRecords(ctx context.Context, lg logrus.FieldLogger, ks *killswitch.Switch, br *breaker.Breaker) error {
	var errs []error
	if st, err := ks.Status(ctx); err != nil {
		logger.Critical(lg.WithError(err), logrus.Fields{"record": "kill_switch"},
			"kill switch record unreadable at startup; rejecting all orders until riskctl init")
		errs = append(errs, err)
	} else if st.Engaged {
		lg.WithFields(logrus.Fields{"operator": st.Operator, "reason": st.Reason}).Warn("kill switch is engaged")
	}
	if rec, err := br.Status(ctx); err != nil {
		logger.Critical(lg.WithError(err), logrus.Fields{"record": "breaker"},
			"breaker record unreadable at startup; rejecting all orders until riskctl init")
		errs = append(errs, err)
	} else if rec.State != breaker.StateClosed {
		lg.WithFields(logrus.Fields{"state": rec.State.String(), "reason": rec.Reason}).Warn("circuit breaker is not closed")
	}
	return errors.Join(errs...)
}

func openAudit(ctx context.Context, cfg config.AuditConfig, lg logrus.FieldLogger) (audit.Sink, []io.Closer, error) {
	var sinks audit.Multi
	var closers []io.Closer

	if cfg.File != "" {
		file, err := audit.NewFileSink(cfg.File)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, file)
		closers = append(closers, file)
	}
	if cfg.PostgresDSN != "" {
		pg, err := audit.OpenPostgresSink(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			lg.WithError(err).Error("failed to ensure audit schema")
		}
		sinks = append(sinks, pg)
		closers = append(closers, pg)
	}
	if len(sinks) == 0 {
		lg.Warn("no audit sink configured; audit records go to the log only")
		return audit.Discard{}, nil, nil
	}

	async := audit.NewAsync(sinks, cfg.Buffer, lg)
	// Drain before the sinks close.
	closers = append([]io.Closer{async}, closers...)
	return async, closers, nil
}

func newChecker(cfg *config.Config, ks risk.KillSwitch, br risk.Breaker, reserver risk.Reserver,
	sink audit.Sink, lg logrus.FieldLogger) (*risk.Checker, error) {
	limits, err := cfg.Gate.ParsedPositionLimits()
	if err != nil {
		return nil, err
	}
	defaultLimit, err := cfg.Gate.DefaultLimit()
	if err != nil {
		return nil, err
	}
	static, err := cfg.Limits.Build()
	if err != nil {
		return nil, err
	}
	if len(limits) == 0 && defaultLimit.IsZero() {
		lg.Warn("no position limits configured; every order will be rejected")
	}

	checker, err := risk.New(risk.Config{
		KillSwitch:           risk.WithKillSwitch(ks),
		Breaker:              br,
		Reserver:             reserver,
		Limits:               safety.NewLimits(static, nil),
		PositionLimits:       limits,
		DefaultPositionLimit: defaultLimit,
		QuantityPrecision:    cfg.Reservation.QuantityPrecision,
		AllowHalfOpen:        cfg.Breaker.AllowHalfOpen,
		Timeouts: risk.Timeouts{
			Total:       cfg.Gate.TotalTimeout,
			KillSwitch:  cfg.Gate.KillSwitchTimeout,
			Breaker:     cfg.Gate.BreakerTimeout,
			Reservation: cfg.Gate.ReservationTimeout,
			Static:      cfg.Gate.StaticTimeout,
		},
		Audit: sink,
		Log:   lg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build risk checker: %w", err)
	}
	return checker, nil
}
