// Package server exposes the fresque pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bdougie/fresque/internal/ffmpeg"
	"github.com/bdougie/fresque/internal/fresque"
	"github.com/bdougie/fresque/internal/models"
	"github.com/bdougie/fresque/internal/publish"
	"github.com/bdougie/fresque/internal/storage"
	"github.com/google/uuid"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
	maxBodyBytes     = 1 << 20
)

// Pipeline is the three-step fresque workflow
type Pipeline interface {
	AssembleCollage(ctx context.Context, images []string, overlap int) (*models.CollageResult, error)
	NormalizeTransparency(ctx context.Context, blackBgImage string) (*models.TransparencyResult, error)
	ComposeScroll(ctx context.Context, transparentImage string, theme *models.Theme) (*models.ScrollResult, error)
}

// Signer computes a collage colour signature
type Signer interface {
	Compute(ctx context.Context, path string) ([]float32, error)
}

// Options wires the server's collaborators. Ledger, Publisher and Signer may be nil.
type Options struct {
	Pipeline  Pipeline
	Ledger    storage.Storage
	Publisher publish.Publisher
	Signer    Signer
	PublicDir string
	Logger    *slog.Logger
}

// Server handles the photos-animate API and serves the public directory
type Server struct {
	pipeline  Pipeline
	ledger    storage.Storage
	publisher publish.Publisher
	signer    Signer
	publicDir string
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Server
func New(opts Options) *Server {
	if opts.Ledger == nil {
		opts.Ledger = storage.Nop{}
	}
	if opts.Publisher == nil {
		opts.Publisher = publish.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		pipeline:  opts.Pipeline,
		ledger:    opts.Ledger,
		publisher: opts.Publisher,
		signer:    opts.Signer,
		publicDir: opts.PublicDir,
		logger:    opts.Logger,
		now:       time.Now,
	}
}

// Handler returns the routed mux
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/photos-animate", s.handleAnimate)
	mux.HandleFunc("GET /api/photos-animate/runs", s.handleRuns)
	mux.HandleFunc("GET /api/photos-animate/runs/{id}/similar", s.handleSimilar)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	if s.publicDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(s.publicDir)))
	}
	return mux
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, errorBody{Error: msg, Details: details})
}

func (s *Server) handleAnimate(w http.ResponseWriter, r *http.Request) {
	runID := uuid.NewString()
	logger := s.logger.With("run_id", runID)

	var req models.AnimateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	logger = logger.With("step", req.Step)

	start := s.now()
	rec := models.RunRecord{ID: runID, Step: req.Step, Status: models.StatusSucceeded}

	var (
		resp any
		err  error
	)
	switch req.Step {
	case 1:
		resp, err = s.runCollage(r.Context(), logger, req, &rec)
	case 2:
		resp, err = s.runTransparency(r.Context(), logger, req, &rec)
	case 3:
		resp, err = s.runScroll(r.Context(), logger, req, &rec)
	default:
		err = &fresque.ValidationError{Field: "step", Msg: fmt.Sprintf("unknown step %d", req.Step)}
	}

	rec.CreatedAt = start.UTC()
	if err != nil {
		rec.Status = models.StatusFailed
		rec.Error = err.Error()
	}
	if lerr := s.ledger.AddRecord(r.Context(), rec); lerr != nil {
		logger.Warn("failed to record run", "error", lerr)
	}

	if err != nil {
		s.writeStepError(w, logger, err)
		return
	}
	logger.Info("step completed", "elapsed", time.Since(start).Round(time.Millisecond))
	writeJSON(w, http.StatusOK, resp)
}

// writeStepError maps pipeline errors to status codes
func (s *Server) writeStepError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var ve *fresque.ValidationError
	if errors.As(err, &ve) {
		logger.Warn("rejected request", "error", err)
		writeError(w, http.StatusBadRequest, ve.Error(), "")
		return
	}
	if te, ok := ffmpeg.AsToolError(err); ok {
		logger.Error("tool failed", "tool", te.Tool, "timed_out", te.TimedOut, "error", te.Err)
		msg := fmt.Sprintf("%s failed", te.Tool)
		if te.TimedOut {
			msg = fmt.Sprintf("%s timed out", te.Tool)
		}
		writeError(w, http.StatusInternalServerError, msg, te.Stderr)
		return
	}
	logger.Error("step failed", "error", err)
	writeError(w, http.StatusInternalServerError, "step failed", err.Error())
}

func (s *Server) runCollage(ctx context.Context, logger *slog.Logger, req models.AnimateRequest, rec *models.RunRecord) (any, error) {
	overlap := fresque.DefaultOverlap
	if req.Overlap != nil {
		overlap = *req.Overlap
	}
	rec.ImageCount = len(req.Images)

	res, err := s.pipeline.AssembleCollage(ctx, req.Images, overlap)
	if err != nil {
		return nil, err
	}
	rec.Artifact = res.BlackBgImage
	rec.TotalWidth = res.TotalWidth
	rec.CanvasHeight = res.MaxHeight

	if s.signer != nil {
		sig, err := s.signer.Compute(ctx, res.Path)
		if err != nil {
			logger.Warn("failed to compute collage signature", "error", err)
		} else {
			rec.Signature = sig
		}
	}
	if urls := s.publish(ctx, logger, res.Path); len(urls) > 0 {
		res.Uploaded = urls
	}
	return res, nil
}

func (s *Server) runTransparency(ctx context.Context, logger *slog.Logger, req models.AnimateRequest, rec *models.RunRecord) (any, error) {
	res, err := s.pipeline.NormalizeTransparency(ctx, req.BlackBgImage)
	if err != nil {
		return nil, err
	}
	rec.Artifact = res.TransparentImage
	if urls := s.publish(ctx, logger, res.Path); len(urls) > 0 {
		res.Uploaded = urls
	}
	return res, nil
}

func (s *Server) runScroll(ctx context.Context, logger *slog.Logger, req models.AnimateRequest, rec *models.RunRecord) (any, error) {
	if req.Theme != nil {
		rec.Theme = req.Theme.Label
	}
	res, err := s.pipeline.ComposeScroll(ctx, req.TransparentImage, req.Theme)
	if err != nil {
		return nil, err
	}
	rec.Artifact = res.Video
	rec.Duration = res.Duration
	rec.TotalWidth = res.Plan.CollageWidth
	rec.CanvasHeight = res.Plan.CollageHeight
	res.Uploaded = s.publish(ctx, logger, res.Path)
	return res, nil
}

// publish failures are logged; the local artifact is still valid
func (s *Server) publish(ctx context.Context, logger *slog.Logger, path string) []string {
	urls, err := s.publisher.Publish(ctx, path)
	if err != nil {
		logger.Warn("failed to publish artifact", "path", path, "error", err)
		return nil
	}
	return urls
}

func parseLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return defaultRunsLimit
	}
	return min(limit, maxRunsLimit)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.ledger.Recent(r.Context(), parseLimit(r))
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	searcher, ok := s.ledger.(storage.Searcher)
	if !ok {
		writeError(w, http.StatusNotImplemented, "similarity search requires the postgres ledger", "")
		return
	}
	id := r.PathValue("id")
	runs, err := searcher.SearchSimilar(r.Context(), id, parseLimit(r))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found", id)
		return
	}
	if err != nil {
		s.logger.Error("similarity search failed", "run_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "similarity search failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
