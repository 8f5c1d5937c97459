package models

import (
	"math"
	"time"
)

// SourceImage is an uploaded photo selected for the fresque
type SourceImage struct {
	Path   string
	Height int
}

// Theme is a background image the collage scrolls over
type Theme struct {
	Label string `json:"label"`
	File  string `json:"file"`
}

// LayoutPlan describes the collage canvas and image placement
type LayoutPlan struct {
	ImageCount   int
	ImageWidth   int
	CanvasHeight int
	TotalWidth   int
	Overlap      int
	AvgHeight    float64
}

// OffsetX returns the horizontal placement of image i on the canvas
func (p LayoutPlan) OffsetX(i int) int {
	return i * (p.ImageWidth + p.Overlap)
}

// ScrollPlan describes the scroll video timing for a collage
type ScrollPlan struct {
	CollageWidth  int
	CollageHeight int
	ViewportWidth int
	FPS           int
	Duration      float64 // seconds
}

// Travel is how far the crop window moves across the collage
func (p ScrollPlan) Travel() int {
	if t := p.CollageWidth - p.ViewportWidth; t > 0 {
		return t
	}
	return 0
}

// Frames is the number of frames in the encoded video
func (p ScrollPlan) Frames() int {
	return int(math.Ceil(p.Duration*float64(p.FPS) - 1e-9))
}

// CropWidth is the width of the crop window, never wider than the collage
func (p ScrollPlan) CropWidth() int {
	if p.CollageWidth < p.ViewportWidth {
		return p.CollageWidth
	}
	return p.ViewportWidth
}

// ViewportHeight is the collage height rounded down to even, as yuv420p requires
func (p ScrollPlan) ViewportHeight() int {
	h := p.CollageHeight &^ 1
	if h < 2 {
		return 2
	}
	return h
}

// CropX is the crop window origin at frame n; it holds at 0 once the scroll ends
func (p ScrollPlan) CropX(n int) float64 {
	travel := float64(p.Travel())
	x := travel - travel/(p.Duration*float64(p.FPS))*float64(n)
	if x < 0 {
		return 0
	}
	return x
}

// AnimateRequest is the body of the photos-animate endpoint
type AnimateRequest struct {
	Images           []string `json:"images"`
	Overlap          *int     `json:"overlap,omitempty"`
	Theme            *Theme   `json:"theme,omitempty"`
	Step             int      `json:"step"`
	BlackBgImage     string   `json:"blackBgImage,omitempty"`
	TransparentImage string   `json:"transparentImage,omitempty"`
}

// CollageResult is returned by step 1
type CollageResult struct {
	Message              string   `json:"message"`
	BlackBgImage         string   `json:"blackBgImage"`
	TotalWidth           int      `json:"totalWidth"`
	MaxHeight            int      `json:"maxHeight"`
	Uploaded             []string `json:"uploaded"`
	TransparentFromStep1 bool     `json:"transparentFromStep1"`

	Plan LayoutPlan `json:"-"`
	Path string     `json:"-"` // absolute path of the artifact
}

// TransparencyResult is returned by step 2
type TransparencyResult struct {
	Message          string   `json:"message"`
	TransparentImage string   `json:"transparentImage"`
	Uploaded         []string `json:"uploaded"`

	Copied bool   `json:"-"` // alpha was already present
	Path   string `json:"-"`
}

// ScrollResult is returned by step 3
type ScrollResult struct {
	Message  string   `json:"message"`
	Video    string   `json:"video"`
	Duration float64  `json:"duration"`
	Frames   int      `json:"frames"`
	Uploaded []string `json:"uploaded,omitempty"`

	Plan ScrollPlan `json:"-"`
	Path string     `json:"-"`
}

// RunRecord is one step invocation stored in the run ledger
type RunRecord struct {
	ID           string    `json:"id"`
	Step         int       `json:"step"`
	Status       string    `json:"status"`
	Artifact     string    `json:"artifact,omitempty"`
	ImageCount   int       `json:"image_count,omitempty"`
	TotalWidth   int       `json:"total_width,omitempty"`
	CanvasHeight int       `json:"canvas_height,omitempty"`
	Theme        string    `json:"theme,omitempty"`
	Duration     float64   `json:"duration_seconds,omitempty"`
	Error        string    `json:"error,omitempty"`
	Signature    []float32 `json:"signature,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Run statuses
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// SimilarRun is a ledger record ranked by signature distance
type SimilarRun struct {
	RunRecord
	Similarity float64 `json:"similarity"`
}
