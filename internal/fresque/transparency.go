package fresque

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/bdougie/fresque/internal/filtergraph"
	"github.com/bdougie/fresque/internal/models"
)

// Colour-key fallback parameters. They assume the compositor fills with
// transparent black; a different fill colour would be keyed wrongly.
const (
	KeyColor      = "0x000000"
	KeySimilarity = 0.1
	KeyBlend      = 0.05
)

var alphaMarkers = []string{"rgba", "bgra", "argb", "abgr", "yuva", "gbrap", "ya8", "ya16", "alpha"}

// HasAlpha reports whether an ffmpeg pixel format name carries an alpha channel
func HasAlpha(pixFmt string) bool {
	f := strings.ToLower(pixFmt)
	for _, m := range alphaMarkers {
		if strings.Contains(f, m) {
			return true
		}
	}
	return false
}

// BuildColorKeyArgs keys near-black pixels of input to transparent and forces RGBA
func BuildColorKeyArgs(input, output string) []string {
	g := filtergraph.New().Chain([]string{filtergraph.Input(0)}, "out",
		filtergraph.ColorKey{Color: KeyColor, Similarity: KeySimilarity, Blend: KeyBlend},
		filtergraph.Format{PixFmt: "rgba"},
	)
	return []string{
		"-i", input,
		"-filter_complex", g.String(),
		"-map", "[out]",
		"-frames:v", "1",
		"-update", "1",
		output,
	}
}

// NormalizeTransparency is step 2: guarantee fresque_transparent.png has alpha.
// An image that already has alpha is copied verbatim; otherwise, or when the
// probe fails, it is colour-keyed.
func (s *Service) NormalizeTransparency(ctx context.Context, blackBgImage string) (*models.TransparencyResult, error) {
	if strings.TrimSpace(blackBgImage) == "" {
		return nil, invalid("blackBgImage", "step 1 output is required")
	}
	src, err := resolveUnder(s.publicDir, blackBgImage, "blackBgImage")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOutputDir(); err != nil {
		return nil, err
	}

	final := s.output(TransparentFile)
	pixFmt, probeErr := s.tools.ProbePixelFormat(ctx, src)
	if probeErr != nil {
		s.logger.Warn("pixel format probe failed, applying color key", "path", src, "error", probeErr)
	}

	copied := probeErr == nil && HasAlpha(pixFmt)
	if copied {
		s.logger.Info("collage already has alpha, copying", "pix_fmt", pixFmt)
		if err := copyFile(src, final); err != nil {
			return nil, fmt.Errorf("copy transparent collage: %w", err)
		}
	} else {
		s.logger.Info("applying color key", "pix_fmt", pixFmt, "color", KeyColor)
		partial := partialPath(final)
		if err := s.tools.Exec(ctx, BuildColorKeyArgs(src, partial)...); err != nil {
			_ = os.Remove(partial)
			return nil, fmt.Errorf("color key: %w", err)
		}
		if err := commit(partial, final); err != nil {
			return nil, err
		}
	}

	return &models.TransparencyResult{
		Message:          "Transparency verified",
		TransparentImage: publicURL(TransparentFile),
		Uploaded:         []string{},
		Copied:           copied,
		Path:             final,
	}, nil
}
