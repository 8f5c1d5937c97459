package fresque

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/bdougie/fresque/internal/models"
)

type probeResult struct {
	image models.SourceImage
	err   error
}

// probeHeights measures every image on a bounded worker pool.
// Failed probes are logged and left out; order of the result is not meaningful.
func (s *Service) probeHeights(ctx context.Context, paths []string) []int {
	if len(paths) == 0 {
		return nil
	}

	workers := s.probeWorkers
	if workers > len(paths) {
		workers = len(paths)
	}

	workChan := make(chan string, len(paths))
	resultsChan := make(chan probeResult, len(paths))

	var wg sync.WaitGroup

	remaining := atomic.Int64{}
	remaining.Store(int64(len(paths)))

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range workChan {
				height, err := s.tools.ProbeHeight(ctx, path)
				resultsChan <- probeResult{
					image: models.SourceImage{Path: path, Height: height},
					err:   err,
				}
				left := remaining.Add(-1)
				s.logger.Debug("probed image", "path", path, "height", height, "remaining", left)
			}
		}()
	}

	for _, p := range paths {
		workChan <- p
	}
	close(workChan)

	wg.Wait()
	close(resultsChan)

	heights := make([]int, 0, len(paths))
	for r := range resultsChan {
		if r.err != nil {
			s.logger.Warn("skipping image, probe failed", "path", r.image.Path, "error", r.err)
			continue
		}
		heights = append(heights, r.image.Height)
	}
	if len(heights) == 0 {
		s.logger.Warn("no image could be probed, using default height", "default", DefaultImageHeight)
	}
	return heights
}
