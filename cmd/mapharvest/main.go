package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sadewadee/mapharvest/browser"
	"github.com/sadewadee/mapharvest/deduper"
	"github.com/sadewadee/mapharvest/emails"
	"github.com/sadewadee/mapharvest/emailverify"
	"github.com/sadewadee/mapharvest/geo"
	"github.com/sadewadee/mapharvest/gmaps"
	"github.com/sadewadee/mapharvest/pkg/monitoring"
	"github.com/sadewadee/mapharvest/postgres"
	"github.com/sadewadee/mapharvest/runner"
	"github.com/sadewadee/mapharvest/tlmt"
	"github.com/sadewadee/mapharvest/web"
	"github.com/sadewadee/mapharvest/web/sqlite"
	"github.com/sadewadee/mapharvest/writers/csvrows"
)

func main() {
	cfg := runner.FromEnv()

	log := newLogger(cfg)

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("exited with error")
	}
}

func newLogger(cfg runner.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	log := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.InfoLevel)

	if cfg.Env != "production" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.DebugLevel)
	}

	if cfg.LogsPerSecondLimit > 0 {
		log = log.Sample(&zerolog.BurstSampler{
			Burst:  uint32(cfg.LogsPerSecondLimit),
			Period: time.Second,
		})
	}

	return log
}

func run(cfg runner.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataFolder, 0o755); err != nil {
		return err
	}

	catalog, err := geo.Load()
	if err != nil {
		return err
	}

	dbpath := filepath.Join(cfg.DataFolder, "jobs.db")

	repo, err := sqlite.New(dbpath)
	if err != nil {
		return err
	}

	bus := web.NewBus()
	svc := web.NewService(repo, nil, bus, cfg.DataFolder, log)

	pool := browser.NewPool(browser.Options{
		WSEndpoint:  cfg.BrowserWSEndpoint,
		PageCeiling: int64(cfg.PageCeiling),
	}, log)
	defer pool.Shutdown()

	var dedup deduper.Deduper
	if cfg.PersistentDedup {
		if d, err := deduper.NewPersistentSQLite(dbpath); err == nil {
			dedup = d
		} else {
			log.Warn().Err(err).Msg("persistent deduper init failed, using in-memory")
			dedup = deduper.New()
		}
	} else {
		dedup = deduper.New()
	}

	var harvester runner.EmailHarvester
	if cfg.EmailAPIEndpoint != "" {
		harvester = emails.NewFetcher(emails.FetcherOptions{
			Endpoint:    cfg.EmailAPIEndpoint,
			Token:       cfg.EmailAPIToken,
			Timeout:     cfg.EmailAPITimeout,
			MaxPages:    cfg.EmailPagesMax,
			Parallelism: 3,
		})
	} else {
		harvester = emails.NewHarvester(&emails.PlaywrightPool{Pool: pool}, emails.HarvesterOptions{
			MaxPages:    cfg.EmailPagesMax,
			Concurrency: cfg.EmailConcurrency,
		})
	}

	verifier := emailverify.NewVerifier(emailverify.VerifierOptions{
		Callout: emailverify.CalloutOptions{
			HeloHost:       cfg.HeloHost,
			MailFrom:       cfg.MailFrom,
			Port:           cfg.SMTPPort,
			ConnectTimeout: cfg.SMTPConnectTimeout,
			CommandTimeout: cfg.SMTPCommandTimeout,
			TryStartTLS:    cfg.SMTPTryStartTLS,
		},
		CatchAllProbe: cfg.SMTPCatchAllProbe,
	})

	writers := []runner.ResultWriter{csvrows.New(cfg.DataFolder)}

	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		writers = append(writers, postgres.NewResultWriter(db))
	}

	telemetry := tlmt.Noop()

	if !cfg.DisableTelemetry && cfg.PosthogAPIKey != "" {
		if t, err := tlmt.NewPosthog(cfg.PosthogAPIKey, "", installID(cfg.DataFolder)); err == nil {
			telemetry = t
		}
	}
	defer telemetry.Close()

	r := runner.New(runner.Options{
		Config:    cfg,
		Catalog:   catalog,
		Pages:     runner.NewPoolPages(pool),
		Extractor: gmaps.NewExtractor(gmaps.ExtractorOptions{}),
		Harvester: harvester,
		Preflight: emails.NewPreflight(emails.PreflightOptions{}),
		Verifier:  verifier,
		Deduper:   dedup,
		Writers:   writers,
		Control:   svc,
		Logger:    log,
	})

	metrics := monitoring.NewCollector()
	go metrics.SampleResources(ctx, time.Minute, log)

	worker := runner.NewWorker(svc, r, telemetry, metrics, cfg.WorkerConcurrency, log)

	log.Info().Str("env", cfg.Env).Int("worker_concurrency", cfg.WorkerConcurrency).Msg("mapharvest started")

	return worker.Run(ctx)
}

// installID keeps a stable anonymous identifier next to the data.
func installID(dataFolder string) string {
	path := filepath.Join(dataFolder, ".install_id")

	if b, err := os.ReadFile(path); err == nil && len(b) > 0 {
		return string(b)
	}

	id := uuid.New().String()
	_ = os.WriteFile(path, []byte(id), 0o644)

	return id
}
