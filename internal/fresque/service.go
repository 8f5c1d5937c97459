package fresque

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/bdougie/fresque/internal/ffmpeg"
)

const defaultProbeWorkers = 4

// Options configures a Service
type Options struct {
	PublicDir    string // source images and the output directory live here
	ThemesDir    string
	ProbeWorkers int
	Logger       *slog.Logger
}

// Service runs the three fresque steps against a shared output directory.
//
// Output filenames are fixed, so steps are serialized within the process.
// Separate processes sharing the directory still race.
type Service struct {
	tools        *ffmpeg.Tools
	publicDir    string
	outputDir    string
	themesDir    string
	probeWorkers int
	logger       *slog.Logger

	mu sync.Mutex
}

// NewService creates a Service
func NewService(tools *ffmpeg.Tools, opts Options) *Service {
	if opts.ProbeWorkers <= 0 {
		opts.ProbeWorkers = defaultProbeWorkers
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ThemesDir == "" {
		opts.ThemesDir = filepath.Join(opts.PublicDir, "themes")
	}
	return &Service{
		tools:        tools,
		publicDir:    opts.PublicDir,
		outputDir:    filepath.Join(opts.PublicDir, "fresque"),
		themesDir:    opts.ThemesDir,
		probeWorkers: opts.ProbeWorkers,
		logger:       opts.Logger,
	}
}

// OutputDir is where artifacts are written
func (s *Service) OutputDir() string {
	return s.outputDir
}

func (s *Service) ensureOutputDir() error {
	if err := os.MkdirAll(s.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory '%s': %w", s.outputDir, err)
	}
	return nil
}

func (s *Service) output(name string) string {
	return filepath.Join(s.outputDir, name)
}
