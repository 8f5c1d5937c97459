package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/bdougie/fresque/internal/config"
	"github.com/bdougie/fresque/internal/ffmpeg"
	"github.com/bdougie/fresque/internal/fresque"
	"github.com/bdougie/fresque/internal/models"
	"github.com/bdougie/fresque/internal/publish"
	"github.com/bdougie/fresque/internal/server"
	"github.com/bdougie/fresque/internal/signature"
	"github.com/bdougie/fresque/internal/storage"
)

const usage = `Usage:
  fresque [serve]
  fresque render --images a.jpg,b.jpg --theme sunset.png [--overlap -150]`

func main() {
	cfg := config.Load()

	// Configure logger
	logger := slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      parseLevel(cfg.LogLevel),
			TimeFormat: "15:04:05",
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "render":
		err = render(ctx, cfg, logger, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Println(usage)
		return
	default:
		fmt.Println(usage)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("fresque failed", "error", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newPipeline(cfg config.Config, logger *slog.Logger) *fresque.Service {
	runner := ffmpeg.NewExecRunner(cfg.ToolTimeout, logger)
	tools := ffmpeg.NewTools(cfg.FFmpegPath, cfg.FFprobePath, runner)
	return fresque.NewService(tools, fresque.Options{
		PublicDir:    cfg.PublicDir,
		ThemesDir:    cfg.ThemesDir,
		ProbeWorkers: cfg.ProbeWorkers,
		Logger:       logger,
	})
}

func newPublisher(ctx context.Context, cfg config.Config, logger *slog.Logger) (publish.Publisher, error) {
	if cfg.S3Bucket == "" {
		return publish.Nop{}, nil
	}
	p, err := publish.NewS3Publisher(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("publishing artifacts to S3", "bucket", cfg.S3Bucket, "prefix", cfg.S3Prefix)
	return p, nil
}

// openLedger returns the configured run ledger and a function that releases it
func openLedger(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Storage, func(), error) {
	switch cfg.Ledger {
	case config.LedgerNone:
		return storage.Nop{}, func() {}, nil
	case config.LedgerPostgres:
		pg := storage.PostgresConfig{
			Host:     cfg.PGHost,
			Port:     cfg.PGPort,
			User:     cfg.PGUser,
			Password: cfg.PGPassword,
			DBName:   cfg.PGDatabase,
		}
		if err := storage.InitSchema(ctx, pg.ConnString()); err != nil {
			return nil, nil, err
		}
		store, err := storage.NewPostgresStorage(ctx, pg.ConnString())
		if err != nil {
			return nil, nil, err
		}
		logger.Info("run ledger", "backend", "postgres", "host", cfg.PGHost, "db", cfg.PGDatabase)
		return store, store.Close, nil
	case config.LedgerFile:
		store := storage.NewFileStorage(cfg.OutputDir())
		logger.Info("run ledger", "backend", "file", "path", store.Path())
		return store, func() {
			if err := store.Flush(); err != nil {
				logger.Warn("failed to flush run ledger", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger)
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	ledger, closeLedger, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLedger()

	publisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}

	signer := signature.NewService(cfg.SignatureWorkers)
	defer signer.Close()

	srv := server.New(server.Options{
		Pipeline:  newPipeline(cfg, logger),
		Ledger:    ledger,
		Publisher: publisher,
		Signer:    signer,
		PublicDir: cfg.PublicDir,
		Logger:    logger,
	})

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fresque listening", "addr", httpServer.Addr, "public", cfg.PublicDir)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

type renderArgs struct {
	images  []string
	theme   string
	overlap int
}

func parseRenderArgs(args []string) (renderArgs, error) {
	ra := renderArgs{overlap: fresque.DefaultOverlap}
	for i := 0; i < len(args); i++ {
		if i+1 >= len(args) {
			return ra, fmt.Errorf("missing value for %s", args[i])
		}
		switch args[i] {
		case "--images":
			for _, img := range strings.Split(args[i+1], ",") {
				if img = strings.TrimSpace(img); img != "" {
					ra.images = append(ra.images, img)
				}
			}
		case "--theme":
			ra.theme = args[i+1]
		case "--overlap":
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				return ra, fmt.Errorf("invalid --overlap: %w", err)
			}
			ra.overlap = n
		default:
			return ra, fmt.Errorf("unknown flag %s", args[i])
		}
		i++
	}
	if len(ra.images) == 0 || ra.theme == "" {
		return ra, errors.New("--images and --theme are required")
	}
	return ra, nil
}

// render runs all three steps once without the HTTP server
func render(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) error {
	ra, err := parseRenderArgs(args)
	if err != nil {
		fmt.Println(usage)
		return err
	}

	publisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	pipeline := newPipeline(cfg, logger)

	collage, err := pipeline.AssembleCollage(ctx, ra.images, ra.overlap)
	if err != nil {
		return err
	}
	transparent, err := pipeline.NormalizeTransparency(ctx, collage.BlackBgImage)
	if err != nil {
		return err
	}
	video, err := pipeline.ComposeScroll(ctx, transparent.TransparentImage, &models.Theme{File: ra.theme})
	if err != nil {
		return err
	}

	urls, err := publisher.Publish(ctx, video.Path)
	if err != nil {
		logger.Warn("failed to publish video", "error", err)
	}

	fmt.Printf("Collage: %s (%dx%d)\n", collage.Path, collage.TotalWidth, collage.MaxHeight)
	fmt.Printf("Video:   %s (%.1fs, %d frames)\n", video.Path, video.Duration, video.Frames)
	for _, u := range urls {
		fmt.Printf("Published: %s\n", u)
	}
	return nil
}
