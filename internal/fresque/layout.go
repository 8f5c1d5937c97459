package fresque

import (
	"math"

	"github.com/bdougie/fresque/internal/models"
)

const (
	// ImageWidth is the width every photo is scaled to on the collage
	ImageWidth = 640
	// MaxImageHeight is the hard ceiling for the collage height
	MaxImageHeight = 800
	// DefaultImageHeight is used when no image could be probed
	DefaultImageHeight = 480
	// DefaultOverlap makes consecutive photos overlap by 150px
	DefaultOverlap = -150

	// soft ceiling relative to the batch average
	heightSlack = 1.5
)

// PlanLayout computes the collage canvas from the probed heights.
// heights may hold fewer entries than imageCount when some probes failed.
func PlanLayout(heights []int, imageCount, overlap int) models.LayoutPlan {
	maxHeight := DefaultImageHeight
	avgHeight := float64(DefaultImageHeight)
	if len(heights) > 0 {
		sum := 0
		maxHeight = heights[0]
		for _, h := range heights {
			sum += h
			if h > maxHeight {
				maxHeight = h
			}
		}
		avgHeight = float64(sum) / float64(len(heights))
	}

	canvas := math.Min(float64(maxHeight), MaxImageHeight)
	canvas = math.Min(canvas, avgHeight*heightSlack)
	canvasHeight := int(math.Floor(canvas))
	if canvasHeight < 1 {
		canvasHeight = 1
	}

	return models.LayoutPlan{
		ImageCount:   imageCount,
		ImageWidth:   ImageWidth,
		CanvasHeight: canvasHeight,
		TotalWidth:   totalWidth(imageCount, overlap),
		Overlap:      overlap,
		AvgHeight:    avgHeight,
	}
}

func totalWidth(imageCount, overlap int) int {
	if imageCount <= 0 {
		return 0
	}
	w := imageCount*ImageWidth + (imageCount-1)*overlap
	if w <= 0 {
		return imageCount * ImageWidth
	}
	return w
}
