package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/local/savemedia/internal/config"
	"github.com/local/savemedia/internal/convert"
	"github.com/local/savemedia/internal/filetype"
	"github.com/local/savemedia/internal/limiter"
	"github.com/local/savemedia/internal/logger"
	"github.com/local/savemedia/internal/media"
	"github.com/local/savemedia/internal/metrics"
	"github.com/local/savemedia/internal/server"
	"github.com/local/savemedia/internal/storage"
	"github.com/local/savemedia/internal/tempscope"
)

func main() {
	_ = godotenv.Load()

	cfg := config.FromEnv()

	if err := logger.Init(logger.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send,
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize logging")
	}
	defer logger.Close()

	metrics.Init()

	office := convert.NewLibreOffice(cfg.Convert.OfficeTimeout, cfg.Convert.OfficeWorkers)
	svc := convert.NewService(filetype.New(), office, cfg.Convert.RenderDPI)
	extractor := media.NewExtractor("", cfg.Media.ExtractTimeout)

	selfTest(office, extractor)

	lim := limiter.New(limiter.Options{
		RedisURL: cfg.Media.RedisURL,
		Max:      cfg.Media.RateLimitMax,
		Window:   cfg.Media.RateLimitWindow,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	archive, err := storage.NewArchive(ctx, cfg.Archive.Bucket, cfg.Archive.Prefix, cfg.Archive.Passphrase)
	if err != nil {
		log.Error().Err(err).Msg("artifact archive disabled")
		archive = nil
	}

	go sweepLoop(ctx, cfg.Convert.TempDir, cfg.Convert.SweepInterval, cfg.Convert.SweepMaxAge)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.New(cfg, svc, extractor, lim, archive).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}

// selfTest logs the state of the external tools at startup. Missing tools
// are not fatal; the affected endpoints return 503 until they appear.
func selfTest(office *convert.LibreOffice, extractor *media.Extractor) {
	if v, err := office.Version(); err == nil {
		log.Info().Str("version", v).Msg("office converter available")
	} else {
		log.Warn().Err(err).Msg("office converter unavailable, document conversion disabled")
	}
	if extractor.IsAvailable() {
		log.Info().Msg("media extractor available")
	} else {
		log.Warn().Msg("yt-dlp not found, media endpoints will return 503")
	}
}

// sweepLoop periodically removes request scopes that outlived their request,
// e.g. after a crash mid-conversion.
func sweepLoop(ctx context.Context, dir string, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := tempscope.Sweep(dir, maxAge); n > 0 {
				metrics.IncSwept(n)
				log.Info().Int("count", n).Msg("swept stale temp dirs")
			}
		}
	}
}
