package fresque

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/bdougie/fresque/internal/filtergraph"
	"github.com/bdougie/fresque/internal/models"
)

const (
	ScrollFPS = 25
	// MinScrollDuration keeps short collages from scrolling too fast
	MinScrollDuration = 8.0
	// ScrollPixelsPerSecond sets the scroll rate for longer collages
	ScrollPixelsPerSecond = 250.0
)

// PlanScroll computes timing for a collage of the given probed size
func PlanScroll(width, height int) models.ScrollPlan {
	return models.ScrollPlan{
		CollageWidth:  width,
		CollageHeight: height,
		ViewportWidth: ImageWidth,
		FPS:           ScrollFPS,
		Duration:      math.Max(MinScrollDuration, float64(width)/ScrollPixelsPerSecond),
	}
}

// CropXExpr is ScrollPlan.CropX as an ffmpeg expression over the frame index n
func CropXExpr(plan models.ScrollPlan) filtergraph.Expr {
	travel := plan.Travel()
	if travel == 0 {
		return filtergraph.Int(0)
	}
	step := float64(travel) / (plan.Duration * float64(plan.FPS))
	return filtergraph.Expr(fmt.Sprintf("max(%d-%s*n,0)", travel, strconv.FormatFloat(step, 'f', -1, 64)))
}

// BuildBackgroundArgs resizes the theme to the viewport
func BuildBackgroundArgs(theme string, plan models.ScrollPlan, output string) []string {
	scale := filtergraph.Scale{W: plan.ViewportWidth, H: plan.ViewportHeight()}
	return []string{
		"-i", theme,
		"-vf", scale.Filter(),
		"-frames:v", "1",
		"-update", "1",
		output,
	}
}

// BuildScrollArgs crops a moving window out of the collage and overlays it on
// the sized background, encoding H.264 for exactly plan.Duration seconds.
func BuildScrollArgs(background, collage string, plan models.ScrollPlan, output string) []string {
	fps := strconv.Itoa(plan.FPS)
	cropW := plan.CropWidth()

	g := filtergraph.New().
		Chain([]string{filtergraph.Input(1)}, "fg",
			filtergraph.Format{PixFmt: "rgba"},
			filtergraph.Crop{W: cropW, H: plan.ViewportHeight(), X: CropXExpr(plan), Y: filtergraph.Int(0)},
		).
		Chain([]string{filtergraph.Input(0), "fg"}, "out",
			filtergraph.Overlay{X: filtergraph.Int((plan.ViewportWidth - cropW) / 2), Y: filtergraph.Int(0), Format: "auto"},
			filtergraph.Format{PixFmt: "yuv420p"},
		)

	return []string{
		"-loop", "1", "-framerate", fps, "-i", background,
		"-loop", "1", "-framerate", fps, "-i", collage,
		"-filter_complex", g.String(),
		"-map", "[out]",
		"-r", fps,
		"-c:v", "libx264",
		"-preset", "fast",
		"-pix_fmt", "yuv420p",
		"-t", strconv.FormatFloat(plan.Duration, 'f', -1, 64),
		"-movflags", "+faststart",
		output,
	}
}

// ComposeScroll is step 3: scroll the normalized collage over theme into
// fresque_scroll.mp4. The sized background is removed only after success.
func (s *Service) ComposeScroll(ctx context.Context, transparentImage string, theme *models.Theme) (*models.ScrollResult, error) {
	if strings.TrimSpace(transparentImage) == "" {
		return nil, invalid("transparentImage", "step 2 output is required")
	}
	if theme == nil || strings.TrimSpace(theme.File) == "" {
		return nil, invalid("theme", "a theme is required to compose the video")
	}
	collage, err := resolveUnder(s.publicDir, transparentImage, "transparentImage")
	if err != nil {
		return nil, err
	}
	themePath, err := resolveUnder(s.themesDir, theme.File, "theme")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOutputDir(); err != nil {
		return nil, err
	}

	dims, err := s.tools.ProbeDimensions(ctx, collage)
	if err != nil {
		return nil, fmt.Errorf("probe collage: %w", err)
	}
	if dims.Width <= 0 || dims.Height <= 0 {
		return nil, fmt.Errorf("probe collage: invalid size %dx%d", dims.Width, dims.Height)
	}

	plan := PlanScroll(dims.Width, dims.Height)
	s.logger.Info("scroll plan",
		"theme", theme.Label,
		"collage_width", plan.CollageWidth,
		"collage_height", plan.CollageHeight,
		"duration", plan.Duration,
		"frames", plan.Frames(),
	)

	background := s.output(SizedBackgroundFile)
	if err := s.tools.Exec(ctx, BuildBackgroundArgs(themePath, plan, background)...); err != nil {
		return nil, fmt.Errorf("resize background: %w", err)
	}

	final := s.output(ScrollFile)
	partial := partialPath(final)
	if err := s.tools.Exec(ctx, BuildScrollArgs(background, collage, plan, partial)...); err != nil {
		_ = os.Remove(partial)
		return nil, fmt.Errorf("encode scroll video: %w", err)
	}
	if err := commit(partial, final); err != nil {
		return nil, err
	}

	if err := os.Remove(background); err != nil {
		s.logger.Warn("failed to remove sized background", "path", background, "error", err)
	}

	return &models.ScrollResult{
		Message:  "Scroll video composed",
		Video:    publicURL(ScrollFile),
		Duration: plan.Duration,
		Frames:   plan.Frames(),
		Plan:     plan,
		Path:     final,
	}, nil
}
