package fresque

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bdougie/fresque/internal/ffmpeg"
	"github.com/bdougie/fresque/internal/ffmpeg/ffmpegtest"
	"github.com/bdougie/fresque/internal/models"
)

// fakeMedia answers ffprobe from a table keyed by file name and makes ffmpeg
// write its last argument, so steps can run without the real tools.
type fakeMedia struct {
	probes    map[string]ffmpeg.Dimensions
	probeErr  map[string]error
	ffmpegErr func(args []string) error
}

func (m *fakeMedia) handle(tool string, args []string) (ffmpeg.Output, error) {
	target := args[len(args)-1]
	name := filepath.Base(target)
	switch tool {
	case "ffprobe":
		if err := m.probeErr[name]; err != nil {
			return ffmpeg.Output{}, err
		}
		d, ok := m.probes[name]
		if !ok {
			return ffmpeg.Output{}, ffmpegtest.Failure("ffprobe", name+": No such file or directory")
		}
		return ffmpeg.Output{Stdout: ffmpegtest.ProbeJSON(d.Width, d.Height, d.PixFmt)}, nil
	case "ffmpeg":
		if m.ffmpegErr != nil {
			if err := m.ffmpegErr(args); err != nil {
				return ffmpeg.Output{}, err
			}
		}
		// deterministic content derived from everything but the output path
		body := strings.Join(args[:len(args)-1], " ")
		return ffmpeg.Output{}, os.WriteFile(target, []byte(body), 0644)
	}
	return ffmpeg.Output{}, errors.New("unexpected tool " + tool)
}

func newTestService(t *testing.T, media *fakeMedia) (*Service, *ffmpegtest.Runner, string) {
	t.Helper()
	public := t.TempDir()
	runner := &ffmpegtest.Runner{Handler: media.handle}
	svc := NewService(ffmpeg.NewTools("", "", runner), Options{
		PublicDir:    public,
		ProbeWorkers: 2,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return svc, runner, public
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func uploads(t *testing.T, public string, names ...string) []string {
	t.Helper()
	rel := make([]string, 0, len(names))
	for _, n := range names {
		writeFile(t, filepath.Join(public, "uploads", n), []byte("img:"+n))
		rel = append(rel, "/uploads/"+n)
	}
	return rel
}

func assertNoPartials(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".partial") {
			t.Errorf("partial file left behind: %s", e.Name())
		}
	}
}

// --- Step 1 ---

func TestAssembleCollage(t *testing.T) {
	media := &fakeMedia{probes: map[string]ffmpeg.Dimensions{
		"a.jpg": {Width: 1000, Height: 500, PixFmt: "yuvj420p"},
		"b.jpg": {Width: 1000, Height: 520, PixFmt: "yuvj420p"},
		"c.jpg": {Width: 1000, Height: 510, PixFmt: "yuvj420p"},
	}}
	svc, runner, public := newTestService(t, media)
	images := uploads(t, public, "a.jpg", "b.jpg", "c.jpg")

	res, err := svc.AssembleCollage(context.Background(), images, DefaultOverlap)
	if err != nil {
		t.Fatalf("AssembleCollage: %v", err)
	}

	if res.TotalWidth != 1620 {
		t.Errorf("TotalWidth = %d, want 1620", res.TotalWidth)
	}
	if res.MaxHeight != 520 {
		t.Errorf("MaxHeight = %d, want 520", res.MaxHeight)
	}
	if res.BlackBgImage != "/fresque/fresque_black_bg.png" {
		t.Errorf("BlackBgImage = %q", res.BlackBgImage)
	}
	if !res.TransparentFromStep1 {
		t.Error("TransparentFromStep1 = false, want true")
	}
	if res.Uploaded == nil || len(res.Uploaded) != 0 {
		t.Errorf("Uploaded = %#v, want empty non-nil slice", res.Uploaded)
	}
	if _, err := os.Stat(res.Path); err != nil {
		t.Errorf("collage not written: %v", err)
	}
	assertNoPartials(t, svc.OutputDir())

	if n := len(runner.CallsTo("ffprobe")); n != 3 {
		t.Errorf("ffprobe calls = %d, want 3", n)
	}
	if n := len(runner.CallsTo("ffmpeg")); n != 1 {
		t.Errorf("ffmpeg calls = %d, want 1", n)
	}
}

func TestAssembleCollageSkipsFailedProbes(t *testing.T) {
	media := &fakeMedia{
		probes: map[string]ffmpeg.Dimensions{
			"a.jpg": {Width: 640, Height: 400},
			"b.jpg": {Width: 640, Height: 440},
		},
		probeErr: map[string]error{"c.jpg": ffmpegtest.Failure("ffprobe", "Invalid data found")},
	}
	svc, _, public := newTestService(t, media)
	images := uploads(t, public, "a.jpg", "b.jpg", "c.jpg")

	res, err := svc.AssembleCollage(context.Background(), images, 0)
	if err != nil {
		t.Fatalf("AssembleCollage: %v", err)
	}
	// heights [400 440]: avg 420, 1.5*avg 630, max 440
	if res.MaxHeight != 440 {
		t.Errorf("MaxHeight = %d, want 440 (failed probe skipped, not zero-filled)", res.MaxHeight)
	}
	if res.Plan.ImageCount != 3 || res.TotalWidth != 3*640 {
		t.Errorf("all three images must still be placed: %+v", res.Plan)
	}
}

func TestAssembleCollageAllProbesFail(t *testing.T) {
	svc, _, public := newTestService(t, &fakeMedia{})
	images := uploads(t, public, "a.jpg", "b.jpg")

	res, err := svc.AssembleCollage(context.Background(), images, DefaultOverlap)
	if err != nil {
		t.Fatalf("AssembleCollage: %v", err)
	}
	if res.MaxHeight != DefaultImageHeight {
		t.Errorf("MaxHeight = %d, want default %d", res.MaxHeight, DefaultImageHeight)
	}
}

func TestAssembleCollageValidation(t *testing.T) {
	svc, runner, public := newTestService(t, &fakeMedia{})
	writeFile(t, filepath.Join(public, "uploads", "a.jpg"), []byte("x"))
	if err := os.MkdirAll(filepath.Join(public, "uploads", "dir"), 0755); err != nil {
		t.Fatal(err)
	}
	outside := filepath.Join(filepath.Dir(public), "secret.jpg")
	writeFile(t, outside, []byte("x"))

	tests := []struct {
		name   string
		images []string
	}{
		{"no images", nil},
		{"missing file", []string{"/uploads/a.jpg", "/uploads/nope.jpg"}},
		{"escapes root", []string{"../secret.jpg"}},
		{"directory", []string{"/uploads/dir"}},
		{"blank", []string{"  "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AssembleCollage(context.Background(), tt.images, DefaultOverlap)
			if !IsValidation(err) {
				t.Fatalf("err = %v, want validation error", err)
			}
		})
	}
	if n := len(runner.Calls()); n != 0 {
		t.Errorf("no tool should run on invalid input, got %d calls", n)
	}
}

func TestAssembleCollageToolFailure(t *testing.T) {
	media := &fakeMedia{
		probes: map[string]ffmpeg.Dimensions{"a.jpg": {Width: 640, Height: 480}},
		ffmpegErr: func([]string) error {
			return ffmpegtest.Failure("ffmpeg", "Invalid filtergraph")
		},
	}
	svc, _, public := newTestService(t, media)
	images := uploads(t, public, "a.jpg")

	_, err := svc.AssembleCollage(context.Background(), images, DefaultOverlap)
	te, ok := ffmpeg.AsToolError(err)
	if !ok {
		t.Fatalf("err = %v, want tool error", err)
	}
	if te.Stderr != "Invalid filtergraph" {
		t.Errorf("Stderr = %q, want tool output surfaced", te.Stderr)
	}
	if _, err := os.Stat(filepath.Join(svc.OutputDir(), CollageFile)); !os.IsNotExist(err) {
		t.Error("failed step must not leave a collage behind")
	}
	assertNoPartials(t, svc.OutputDir())
}

func TestAssembleCollageIdempotent(t *testing.T) {
	media := &fakeMedia{probes: map[string]ffmpeg.Dimensions{
		"a.jpg": {Width: 640, Height: 500},
		"b.jpg": {Width: 640, Height: 520},
	}}
	svc, _, public := newTestService(t, media)
	images := uploads(t, public, "a.jpg", "b.jpg")

	first, err := svc.AssembleCollage(context.Background(), images, DefaultOverlap)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	a, _ := os.ReadFile(first.Path)

	second, err := svc.AssembleCollage(context.Background(), images, DefaultOverlap)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	b, _ := os.ReadFile(second.Path)

	if first.Path != second.Path {
		t.Errorf("output path changed: %s vs %s", first.Path, second.Path)
	}
	if !bytes.Equal(a, b) {
		t.Error("identical inputs produced different output")
	}
}

// --- Step 2 ---

func TestHasAlpha(t *testing.T) {
	tests := []struct {
		pixFmt string
		want   bool
	}{
		{"rgba", true},
		{"RGBA", true},
		{"yuva420p", true},
		{"bgra", true},
		{"ya8", true},
		{"gbrap", true},
		{"rgb24", false},
		{"yuv420p", false},
		{"yuvj444p", false},
		{"gray", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := HasAlpha(tt.pixFmt); got != tt.want {
			t.Errorf("HasAlpha(%q) = %v, want %v", tt.pixFmt, got, tt.want)
		}
	}
}

func TestNormalizeTransparencyCopiesAlpha(t *testing.T) {
	media := &fakeMedia{probes: map[string]ffmpeg.Dimensions{
		CollageFile: {Width: 1620, Height: 520, PixFmt: "rgba"},
	}}
	svc, runner, public := newTestService(t, media)
	src := filepath.Join(public, "fresque", CollageFile)
	original := []byte("\x89PNG collage bytes")
	writeFile(t, src, original)

	res, err := svc.NormalizeTransparency(context.Background(), "/fresque/"+CollageFile)
	if err != nil {
		t.Fatalf("NormalizeTransparency: %v", err)
	}
	if !res.Copied {
		t.Error("Copied = false, want verbatim copy for rgba input")
	}
	if res.TransparentImage != "/fresque/fresque_transparent.png" {
		t.Errorf("TransparentImage = %q", res.TransparentImage)
	}
	got, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(got, original) {
		t.Error("alpha input must be copied byte for byte")
	}
	if n := len(runner.CallsTo("ffmpeg")); n != 0 {
		t.Errorf("ffmpeg calls = %d, want 0 (no re-encode)", n)
	}
	assertNoPartials(t, svc.OutputDir())
}

func TestNormalizeTransparencyColorKey(t *testing.T) {
	tests := []struct {
		name  string
		media *fakeMedia
	}{
		{"no alpha", &fakeMedia{probes: map[string]ffmpeg.Dimensions{
			CollageFile: {Width: 1620, Height: 520, PixFmt: "rgb24"},
		}}},
		{"probe failure", &fakeMedia{probeErr: map[string]error{
			CollageFile: ffmpegtest.Failure("ffprobe", "moov atom not found"),
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, runner, public := newTestService(t, tt.media)
			writeFile(t, filepath.Join(public, "fresque", CollageFile), []byte("png"))

			res, err := svc.NormalizeTransparency(context.Background(), "/fresque/"+CollageFile)
			if err != nil {
				t.Fatalf("NormalizeTransparency: %v", err)
			}
			if res.Copied {
				t.Error("Copied = true, want color key pass")
			}
			calls := runner.CallsTo("ffmpeg")
			if len(calls) != 1 {
				t.Fatalf("ffmpeg calls = %d, want 1", len(calls))
			}
			if !strings.Contains(calls[0].Line(), "colorkey=color=0x000000:similarity=0.1:blend=0.05,format=rgba") {
				t.Errorf("color key filter missing: %s", calls[0].Line())
			}
			if _, err := os.Stat(res.Path); err != nil {
				t.Errorf("output missing: %v", err)
			}
		})
	}
}

func TestNormalizeTransparencyValidation(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeMedia{})
	for _, in := range []string{"", "/fresque/missing.png"} {
		if _, err := svc.NormalizeTransparency(context.Background(), in); !IsValidation(err) {
			t.Errorf("NormalizeTransparency(%q) err = %v, want validation error", in, err)
		}
	}
}

// --- Step 3 ---

func TestComposeScroll(t *testing.T) {
	media := &fakeMedia{probes: map[string]ffmpeg.Dimensions{
		TransparentFile: {Width: 1620, Height: 520, PixFmt: "rgba"},
	}}
	svc, runner, public := newTestService(t, media)
	writeFile(t, filepath.Join(public, "fresque", TransparentFile), []byte("png"))
	writeFile(t, filepath.Join(public, "themes", "sunset.png"), []byte("theme"))

	theme := &models.Theme{Label: "Sunset", File: "sunset.png"}
	res, err := svc.ComposeScroll(context.Background(), "/fresque/"+TransparentFile, theme)
	if err != nil {
		t.Fatalf("ComposeScroll: %v", err)
	}
	if res.Video != "/fresque/fresque_scroll.mp4" {
		t.Errorf("Video = %q", res.Video)
	}
	if res.Duration != 8 || res.Frames != 200 {
		t.Errorf("duration/frames = %v/%d, want 8/200", res.Duration, res.Frames)
	}
	if _, err := os.Stat(res.Path); err != nil {
		t.Errorf("video missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(svc.OutputDir(), SizedBackgroundFile)); !os.IsNotExist(err) {
		t.Error("sized background should be removed after success")
	}
	assertNoPartials(t, svc.OutputDir())

	calls := runner.CallsTo("ffmpeg")
	if len(calls) != 2 {
		t.Fatalf("ffmpeg calls = %d, want resize + encode", len(calls))
	}
	if !strings.Contains(calls[0].Line(), "scale=640:520") {
		t.Errorf("background not resized to the viewport: %s", calls[0].Line())
	}
	encode := calls[1].Line()
	for _, want := range []string{"crop=w=640:h=520:x='max(980-4.9*n,0)':y=0", "-c:v libx264", "-preset fast", "-pix_fmt yuv420p", "-t 8", "-r 25"} {
		if !strings.Contains(encode, want) {
			t.Errorf("encode args missing %q: %s", want, encode)
		}
	}
}

func TestComposeScrollEncodeFailure(t *testing.T) {
	media := &fakeMedia{
		probes: map[string]ffmpeg.Dimensions{TransparentFile: {Width: 4000, Height: 600}},
		ffmpegErr: func(args []string) error {
			if strings.HasSuffix(args[len(args)-1], ".mp4") {
				return ffmpegtest.Failure("ffmpeg", "Unknown encoder 'libx264'")
			}
			return nil
		},
	}
	svc, _, public := newTestService(t, media)
	writeFile(t, filepath.Join(public, "fresque", TransparentFile), []byte("png"))
	writeFile(t, filepath.Join(public, "themes", "sea.jpg"), []byte("theme"))

	_, err := svc.ComposeScroll(context.Background(), "/fresque/"+TransparentFile, &models.Theme{Label: "Sea", File: "sea.jpg"})
	te, ok := ffmpeg.AsToolError(err)
	if !ok {
		t.Fatalf("err = %v, want tool error", err)
	}
	if !strings.Contains(te.Stderr, "libx264") {
		t.Errorf("Stderr = %q, want encoder diagnostics", te.Stderr)
	}
	if _, err := os.Stat(filepath.Join(svc.OutputDir(), ScrollFile)); !os.IsNotExist(err) {
		t.Error("failed encode must not produce the video")
	}
	if _, err := os.Stat(filepath.Join(svc.OutputDir(), SizedBackgroundFile)); err != nil {
		t.Error("background cleanup must not run after a failed encode")
	}
	assertNoPartials(t, svc.OutputDir())
}

func TestComposeScrollValidation(t *testing.T) {
	svc, runner, public := newTestService(t, &fakeMedia{})
	writeFile(t, filepath.Join(public, "fresque", TransparentFile), []byte("png"))
	img := "/fresque/" + TransparentFile

	tests := []struct {
		name  string
		image string
		theme *models.Theme
	}{
		{"no image", "", &models.Theme{File: "a.png"}},
		{"no theme", img, nil},
		{"empty theme file", img, &models.Theme{Label: "x"}},
		{"theme not found", img, &models.Theme{File: "missing.png"}},
		{"theme escapes", img, &models.Theme{File: "../fresque/" + TransparentFile}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.ComposeScroll(context.Background(), tt.image, tt.theme); !IsValidation(err) {
				t.Errorf("err = %v, want validation error", err)
			}
		})
	}
	if n := len(runner.Calls()); n != 0 {
		t.Errorf("tool calls = %d, want 0", n)
	}
}
