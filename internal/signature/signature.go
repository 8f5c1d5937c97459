// Package signature computes a small colour signature for finished collages.
//
// A signature is [meanR, meanG, meanB, coverage], each in 0..1. The means are
// taken over non-transparent pixels only and coverage is the share of the
// canvas that is not transparent. It is stored next to each run so similar
// walls can be found with a vector distance.
package signature

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Dims is the length of a signature vector
const Dims = 4

// images are reduced to sampleSize×sampleSize before averaging
const sampleSize = 32

// ErrQueueFull is returned when more work is pending than the queue holds
var ErrQueueFull = errors.New("signature queue is full, try again later")

// Result is the outcome of one signature request
type Result struct {
	Path      string
	Signature []float32
	Error     error
}

type work struct {
	path   string
	result chan<- Result
}

// Service computes signatures on a fixed pool of workers and caches them by
// path, size and modification time, since artifacts are overwritten in place.
type Service struct {
	numWorkers int
	workQueue  chan work
	cache      sync.Map
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewService starts numWorkers signature workers
func NewService(numWorkers int) *Service {
	if numWorkers <= 0 {
		numWorkers = 2
	}
	s := &Service{
		numWorkers: numWorkers,
		workQueue:  make(chan work, 32),
	}
	s.startWorkers()
	return s
}

func (s *Service) startWorkers() {
	for i := 0; i < s.numWorkers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for w := range s.workQueue {
				sig, err := s.compute(w.path)
				w.result <- Result{Path: w.path, Signature: sig, Error: err}
			}
		}()
	}
}

func (s *Service) compute(path string) ([]float32, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s:%d:%d", path, info.Size(), info.ModTime().UnixNano())
	if cached, ok := s.cache.Load(key); ok {
		return cached.([]float32), nil
	}

	sig, err := FromFile(path)
	if err != nil {
		return nil, err
	}
	s.cache.Store(key, sig)
	return sig, nil
}

// Request queues path and returns a channel that receives exactly one Result
func (s *Service) Request(path string) <-chan Result {
	resultChan := make(chan Result, 1)
	select {
	case s.workQueue <- work{path: path, result: resultChan}:
	default:
		resultChan <- Result{Path: path, Error: ErrQueueFull}
	}
	return resultChan
}

// Compute requests a signature and waits for it
func (s *Service) Compute(ctx context.Context, path string) ([]float32, error) {
	select {
	case r := <-s.Request(path):
		return r.Signature, r.Error
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the workers after pending work drains
func (s *Service) Close() {
	s.closeOnce.Do(func() { close(s.workQueue) })
	s.wg.Wait()
}

// FromFile decodes a PNG, JPEG or WebP image and returns its signature
func FromFile(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return FromImage(img), nil
}

// FromImage returns the signature of img
func FromImage(img image.Image) []float32 {
	dst := image.NewNRGBA(image.Rect(0, 0, sampleSize, sampleSize))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	var r, g, b float64
	covered := 0
	for i := 0; i < len(dst.Pix); i += 4 {
		if dst.Pix[i+3] == 0 {
			continue
		}
		r += float64(dst.Pix[i])
		g += float64(dst.Pix[i+1])
		b += float64(dst.Pix[i+2])
		covered++
	}

	sig := make([]float32, Dims)
	if covered > 0 {
		n := float64(covered) * 255
		sig[0] = float32(r / n)
		sig[1] = float32(g / n)
		sig[2] = float32(b / n)
	}
	sig[3] = float32(covered) / float32(sampleSize*sampleSize)
	return sig
}
