// Package filtergraph builds ffmpeg filter graphs from typed operations.
//
// Placement and sizing are computed by callers as plain numbers; this package
// only turns them into ffmpeg's textual -filter_complex syntax, so the two can be
// tested independently.
package filtergraph

import (
	"fmt"
	"strconv"
	"strings"
)

// Expr is an ffmpeg expression such as "0", "(oh-ih)/2" or "max(W-640,0)"
type Expr string

// Int is a constant expression
func Int(n int) Expr {
	return Expr(strconv.Itoa(n))
}

// render quotes the expression when it contains filter-graph separators
func (e Expr) render() string {
	s := string(e)
	if strings.ContainsAny(s, ",:;[]") {
		return "'" + s + "'"
	}
	return s
}

// Filter is a single typed operation in a chain
type Filter interface {
	Filter() string
}

// Scale resizes the stream. A negative dimension keeps the aspect ratio.
// Fit is passed to force_original_aspect_ratio ("decrease" or "increase").
type Scale struct {
	W, H int
	Fit  string
}

func (s Scale) Filter() string {
	out := fmt.Sprintf("scale=%d:%d", s.W, s.H)
	if s.Fit != "" {
		out += ":force_original_aspect_ratio=" + s.Fit
	}
	return out
}

// Pad grows the frame to W×H placing the input at X,Y
type Pad struct {
	W, H  int
	X, Y  Expr
	Color string
}

func (p Pad) Filter() string {
	out := fmt.Sprintf("pad=%d:%d:%s:%s", p.W, p.H, p.X.render(), p.Y.render())
	if p.Color != "" {
		out += ":color=" + p.Color
	}
	return out
}

// Format converts to the given pixel format
type Format struct {
	PixFmt string
}

func (f Format) Filter() string {
	return "format=" + f.PixFmt
}

// Overlay draws the second input over the first at X,Y
type Overlay struct {
	X, Y   Expr
	Format string // overlay's internal pixel format, e.g. "auto"
}

func (o Overlay) Filter() string {
	out := fmt.Sprintf("overlay=x=%s:y=%s", o.X.render(), o.Y.render())
	if o.Format != "" {
		out += ":format=" + o.Format
	}
	return out
}

// Crop cuts a W×H window whose origin may vary per frame
type Crop struct {
	W, H int
	X, Y Expr
}

func (c Crop) Filter() string {
	return fmt.Sprintf("crop=w=%d:h=%d:x=%s:y=%s", c.W, c.H, c.X.render(), c.Y.render())
}

// ColorKey makes pixels close to Color transparent
type ColorKey struct {
	Color      string
	Similarity float64
	Blend      float64
}

func (k ColorKey) Filter() string {
	return fmt.Sprintf("colorkey=color=%s:similarity=%s:blend=%s",
		k.Color, formatFloat(k.Similarity), formatFloat(k.Blend))
}

// Color is a solid-colour source of size W×H lasting Duration seconds
type Color struct {
	Color    string
	W, H     int
	Duration float64
}

func (c Color) Filter() string {
	out := fmt.Sprintf("color=c=%s:s=%dx%d", c.Color, c.W, c.H)
	if c.Duration > 0 {
		out += ":d=" + formatFloat(c.Duration)
	}
	return out
}

type chain struct {
	inputs  []string
	filters []Filter
	output  string
}

// Graph is an ordered list of labelled filter chains
type Graph struct {
	chains []chain
}

// New returns an empty graph
func New() *Graph {
	return &Graph{}
}

// Input labels the video stream of the i-th input file
func Input(i int) string {
	return fmt.Sprintf("%d:v", i)
}

// Chain appends a chain reading the labelled inputs and writing output.
// Source chains (e.g. Color) take no inputs.
func (g *Graph) Chain(inputs []string, output string, filters ...Filter) *Graph {
	g.chains = append(g.chains, chain{
		inputs:  append([]string(nil), inputs...),
		filters: filters,
		output:  output,
	})
	return g
}

// Len is the number of chains in the graph
func (g *Graph) Len() int {
	return len(g.chains)
}

// String renders the graph in -filter_complex syntax
func (g *Graph) String() string {
	parts := make([]string, 0, len(g.chains))
	for _, c := range g.chains {
		var b strings.Builder
		for _, in := range c.inputs {
			b.WriteString("[" + in + "]")
		}
		for i, f := range c.filters {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(f.Filter())
		}
		if c.output != "" {
			b.WriteString("[" + c.output + "]")
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, ";")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
