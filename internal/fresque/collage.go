package fresque

import (
	"context"
	"fmt"
	"os"

	"github.com/bdougie/fresque/internal/filtergraph"
	"github.com/bdougie/fresque/internal/models"
)

// fully transparent fill for padding and the base canvas
const transparentFill = "black@0"

// BuildCollageArgs returns the ffmpeg arguments that composite inputs onto a
// transparent plan.TotalWidth × plan.CanvasHeight canvas and write one RGBA frame.
func BuildCollageArgs(inputs []string, plan models.LayoutPlan, output string) []string {
	args := make([]string, 0, 2*len(inputs)+10)
	for _, in := range inputs {
		args = append(args, "-i", in)
	}

	g := filtergraph.New()
	for i := range inputs {
		g.Chain([]string{filtergraph.Input(i)}, imageLabel(i),
			filtergraph.Format{PixFmt: "rgba"},
			filtergraph.Scale{W: plan.ImageWidth, H: plan.CanvasHeight, Fit: "decrease"},
			filtergraph.Pad{
				W:     plan.ImageWidth,
				H:     plan.CanvasHeight,
				X:     "(ow-iw)/2",
				Y:     "(oh-ih)/2",
				Color: transparentFill,
			},
		)
	}

	width := plan.TotalWidth
	if width <= 0 {
		width = len(inputs) * plan.ImageWidth
	}
	g.Chain(nil, "base",
		filtergraph.Color{Color: transparentFill, W: width, H: plan.CanvasHeight, Duration: 1},
		filtergraph.Format{PixFmt: "rgba"},
	)

	prev := "base"
	for i := range inputs {
		layer := fmt.Sprintf("l%d", i)
		g.Chain([]string{prev, imageLabel(i)}, layer, filtergraph.Overlay{
			X:      filtergraph.Int(plan.OffsetX(i)),
			Y:      filtergraph.Int(0),
			Format: "auto",
		})
		prev = layer
	}
	g.Chain([]string{prev}, "out", filtergraph.Format{PixFmt: "rgba"})

	return append(args,
		"-filter_complex", g.String(),
		"-map", "[out]",
		"-frames:v", "1",
		"-update", "1",
		output,
	)
}

func imageLabel(i int) string {
	return fmt.Sprintf("img%d", i)
}

// AssembleCollage is step 1: probe, lay out and composite images into
// fresque_black_bg.png. images are relative to the public directory.
func (s *Service) AssembleCollage(ctx context.Context, images []string, overlap int) (*models.CollageResult, error) {
	if len(images) == 0 {
		return nil, invalid("images", "no images provided")
	}

	paths := make([]string, 0, len(images))
	for _, img := range images {
		p, err := resolveUnder(s.publicDir, img, "images")
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOutputDir(); err != nil {
		return nil, err
	}

	heights := s.probeHeights(ctx, paths)
	plan := PlanLayout(heights, len(paths), overlap)
	s.logger.Info("collage layout",
		"images", plan.ImageCount,
		"probed", len(heights),
		"overlap", plan.Overlap,
		"total_width", plan.TotalWidth,
		"canvas_height", plan.CanvasHeight,
	)

	final := s.output(CollageFile)
	partial := partialPath(final)
	if err := s.tools.Exec(ctx, BuildCollageArgs(paths, plan, partial)...); err != nil {
		_ = os.Remove(partial)
		return nil, fmt.Errorf("assemble collage: %w", err)
	}
	if err := commit(partial, final); err != nil {
		return nil, err
	}

	return &models.CollageResult{
		Message:              "Collage assembled",
		BlackBgImage:         publicURL(CollageFile),
		TotalWidth:           plan.TotalWidth,
		MaxHeight:            plan.CanvasHeight,
		Uploaded:             []string{},
		TransparentFromStep1: true,
		Plan:                 plan,
		Path:                 final,
	}, nil
}
