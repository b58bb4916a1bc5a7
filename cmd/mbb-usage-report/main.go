package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/mbb-usage-report/internal/metrics"
	"github.com/Checker-Finance/mbb-usage-report/internal/nextpertise"
	"github.com/Checker-Finance/mbb-usage-report/internal/publisher"
	"github.com/Checker-Finance/mbb-usage-report/internal/rate"
	"github.com/Checker-Finance/mbb-usage-report/internal/report"
	"github.com/Checker-Finance/mbb-usage-report/internal/store"
	"github.com/Checker-Finance/mbb-usage-report/pkg/config"
	"github.com/Checker-Finance/mbb-usage-report/pkg/logger"
	"github.com/Checker-Finance/mbb-usage-report/pkg/secrets"
	"github.com/Checker-Finance/mbb-usage-report/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	cfg := config.Load()
	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)

	err := run(ctx, cfg)
	stop()
	if err != nil {
		logger.S().Errorw("report run failed", "error", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func run(ctx context.Context, cfg *config.Config) (err error) {
	logg := logger.L()
	defer func() {
		if err != nil {
			metrics.RecordFailure(time.Now())
		}
		pushMetrics(ctx, cfg, logg)
	}()

	logg.Info("starting report run",
		zap.String("base_url", cfg.BaseURL),
		zap.String("billing_cycle", cfg.BillingCycle),
		zap.String("debtor_code", cfg.DebtorCode),
		zap.Int("page_size", cfg.PageSize))

	// --- Credentials ---
	creds, err := loadCredentials(ctx, cfg)
	if err != nil {
		return err
	}

	// --- Nextpertise client ---
	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = cfg.HTTPTimeout
	limiter := rate.New(rate.Config{
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.RequestsBurst,
	})
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	exec := nextpertise.NewExecutor(logg, httpClient, limiter, cfg.HTTPRetryMax)
	tokens := nextpertise.NewTokenProvider(logg, exec, baseURL, creds)
	client := nextpertise.NewClient(logg, exec, tokens, baseURL)

	// --- Optional sinks ---
	var sinks []report.Sink
	if cfg.RedisAddr != "" || cfg.DatabaseURL != "" {
		if cfg.DatabaseURL != "" {
			logg.Info("snapshot store enabled", zap.String("dsn", utils.MaskDSN(cfg.DatabaseURL)))
		}
		st, err := store.NewHybrid(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.RedisPass, cfg.DatabaseURL, logg)
		if err != nil {
			logg.Warn("store unavailable, skipping", zap.Error(err))
		} else {
			defer func() {
				if err := st.Close(); err != nil {
					logg.Warn("store.close_failed", zap.Error(err))
				}
			}()
			sinks = append(sinks, st)
		}
	}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName))
		if err != nil {
			logg.Warn("nats unavailable, skipping", zap.Error(err))
		} else {
			defer nc.Close()
			sinks = append(sinks, publisher.New(nc, cfg.ReportSubject, cfg.ServiceName, logg))
		}
	}

	// --- Report ---
	builder := report.NewBuilder(logg, client, client, report.Options{
		DebtorCode:   cfg.DebtorCode,
		BillingCycle: cfg.BillingCycle,
		PageSize:     cfg.PageSize,
		OutputDir:    cfg.OutputDir,
	}, sinks...)

	summary, err := builder.Build(ctx)
	if err != nil {
		return err
	}

	fmt.Println(summary.File)
	return nil
}

// pushMetrics sends the run's metrics to the Pushgateway, if one is configured.
// It runs after failed runs too, so error counters and the failure gauge leave the process.
func pushMetrics(ctx context.Context, cfg *config.Config, logg *zap.Logger) {
	if cfg.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	grouping := map[string]string{"debtor_code": strings.ToLower(cfg.DebtorCode)}
	if err := metrics.Push(ctx, cfg.PushgatewayURL, cfg.ServiceName, grouping); err != nil {
		logg.Warn("metrics push failed", zap.Error(err))
	}
}

// loadCredentials prefers credentials from the environment and falls back to the
// configured secret. With neither, the empty pair is used and the log-in fails.
func loadCredentials(ctx context.Context, cfg *config.Config) (secrets.Credentials, error) {
	if cfg.HasCredentials() {
		return secrets.Credentials{Username: cfg.APIUsername, Password: cfg.APIPassword}, nil
	}

	if cfg.CredentialsSecret == "" {
		logger.L().Warn("no API credentials configured; log-in will be rejected")
		return secrets.Credentials{Username: cfg.APIUsername, Password: cfg.APIPassword}, nil
	}

	provider, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
	if err != nil {
		return secrets.Credentials{}, err
	}
	creds, err := secrets.ResolveCredentials(ctx, provider, cfg.CredentialsSecret)
	if err != nil {
		return secrets.Credentials{}, err
	}
	logger.L().Info("credentials resolved from secrets manager",
		zap.String("secret", cfg.CredentialsSecret),
		zap.String("username", creds.Username))
	return creds, nil
}
