package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mkrupp/homecase-accounts/internal/infra/config"
	"github.com/mkrupp/homecase-accounts/internal/infra/logging"
	"github.com/mkrupp/homecase-accounts/internal/infra/transport/http"
	"github.com/mkrupp/homecase-accounts/internal/infra/txn"
	"github.com/mkrupp/homecase-accounts/internal/repo/collection"
	"github.com/mkrupp/homecase-accounts/internal/svc/accountsvc"
)

const (
	appName = "accounts"
	svcName = "accountsvc"
)

type Config struct {
	config.EnvConfig

	Log     logging.LoggerConfig           `envPrefix:"LOG_"`
	Account accountsvc.AccountConfig       `envPrefix:"ACCOUNT_"`
	HTTP    accountsvc.HTTPTransportConfig `envPrefix:"HTTP_"`
	Store   collection.StoreConfig         `envPrefix:"STORE_"`

	// AutoSetup creates missing collections at startup.
	AutoSetup bool `env:"AUTO_SETUP" default:"true"`

	// MetricsEnabled serves /metrics and records unit-of-work metrics.
	MetricsEnabled bool `env:"METRICS_ENABLED" default:"true"`
}

func main() {
	var (
		cfg Config
		ctx = context.Background()

		configPrefix = strings.ToUpper(strings.Join([]string{appName, svcName}, "_"))
		loggerName   = strings.ToLower(strings.Join([]string{appName, svcName}, "."))
	)

	if err := config.Parse(ctx, &cfg, configPrefix); err != nil {
		panic(err)
	}

	logging.Configure(ctx, cfg.Log, loggerName)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config) (err error) {
	log := logging.GetLogger("cmd.accountsvc")

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "error", "err", err)

			return
		}

		log.InfoContext(ctx, "shutdown")
	}()

	var (
		gatherer prometheus.Gatherer
		opts     []accountsvc.Option
	)

	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		metrics, err := txn.NewMetrics(reg)
		if err != nil {
			return fmt.Errorf("new metrics: %w", err)
		}

		gatherer = reg
		opts = append(opts, accountsvc.WithMetrics(metrics))
	}

	storeFactory, err := collection.NewStoreFactory(cfg.Store)
	if err != nil {
		return fmt.Errorf("new store factory: %w", err)
	}

	accountSvc, err := accountsvc.NewAccountService(ctx, storeFactory, cfg.Account, opts...)
	if err != nil {
		return fmt.Errorf("new account service: %w", err)
	}

	defer func() {
		if closeErr := accountSvc.Close(context.WithoutCancel(ctx)); closeErr != nil {
			log.WarnContext(ctx, "close account service", "err", closeErr)
		}
	}()

	if cfg.AutoSetup {
		if err := accountSvc.Setup(ctx); err != nil {
			return fmt.Errorf("setup: %w", err)
		}
	}

	httpTransport := accountsvc.NewHTTPTransport(accountSvc, gatherer, cfg.HTTP)

	log.InfoContext(ctx, "serving", "addr", cfg.HTTP.ServerAddr, "store", cfg.Store.Driver)

	if err := http.ListenAndServe(ctx, httpTransport, cfg.HTTP.HTTPTransportConfig); err != nil {
		return fmt.Errorf("listen and serve: %w", err)
	}

	return nil
}
