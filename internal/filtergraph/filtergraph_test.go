package filtergraph

import "testing"

func TestFilters(t *testing.T) {
	tests := []struct {
		name string
		f    Filter
		want string
	}{
		{"scale", Scale{W: 640, H: -1}, "scale=640:-1"},
		{"scale fit", Scale{W: 640, H: 520, Fit: "decrease"}, "scale=640:520:force_original_aspect_ratio=decrease"},
		{"pad", Pad{W: 640, H: 520, X: "(ow-iw)/2", Y: "(oh-ih)/2", Color: "black@0"}, "pad=640:520:(ow-iw)/2:(oh-ih)/2:color=black@0"},
		{"format", Format{PixFmt: "rgba"}, "format=rgba"},
		{"overlay", Overlay{X: Int(-150), Y: Int(0), Format: "auto"}, "overlay=x=-150:y=0:format=auto"},
		{"crop quoted", Crop{W: 640, H: 520, X: "max(980-n,0)", Y: Int(0)}, "crop=w=640:h=520:x='max(980-n,0)':y=0"},
		{"colorkey", ColorKey{Color: "0x000000", Similarity: 0.1, Blend: 0.05}, "colorkey=color=0x000000:similarity=0.1:blend=0.05"},
		{"color", Color{Color: "black@0", W: 1620, H: 520, Duration: 1}, "color=c=black@0:s=1620x520:d=1"},
		{"color no duration", Color{Color: "white", W: 2, H: 2}, "color=c=white:s=2x2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Filter(); got != tt.want {
				t.Errorf("Filter() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGraphString(t *testing.T) {
	g := New().
		Chain([]string{Input(0)}, "img0", Format{PixFmt: "rgba"}, Scale{W: 640, H: 480}).
		Chain(nil, "base", Color{Color: "black@0", W: 640, H: 480, Duration: 1}).
		Chain([]string{"base", "img0"}, "out", Overlay{X: Int(0), Y: Int(0)})

	want := "[0:v]format=rgba,scale=640:480[img0];color=c=black@0:s=640x480:d=1[base];[base][img0]overlay=x=0:y=0[out]"
	if got := g.String(); got != want {
		t.Errorf("String() =\n%s\nwant\n%s", got, want)
	}
	if g.Len() != 3 {
		t.Errorf("Len() = %d, want 3", g.Len())
	}
}

func TestExprQuoting(t *testing.T) {
	tests := []struct {
		in   Expr
		want string
	}{
		{"0", "0"},
		{"(oh-ih)/2", "(oh-ih)/2"},
		{"max(1,2)", "'max(1,2)'"},
		{"if(a:b)", "'if(a:b)'"},
	}
	for _, tt := range tests {
		if got := tt.in.render(); got != tt.want {
			t.Errorf("render(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEmptyGraph(t *testing.T) {
	if got := New().String(); got != "" {
		t.Errorf("empty graph renders %q", got)
	}
}
