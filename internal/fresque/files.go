package fresque

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Fixed artifact names; re-running a step overwrites its file.
const (
	CollageFile         = "fresque_black_bg.png"
	TransparentFile     = "fresque_transparent.png"
	ScrollFile          = "fresque_scroll.mp4"
	SizedBackgroundFile = "bg_sized.jpg"

	// URLPrefix is where the output directory is served under the public root
	URLPrefix = "/fresque"
)

// swapped in tests
var renameFunc = os.Rename

// resolveUnder maps a root-relative path (leading "/" allowed) to an existing
// regular file under root
func resolveUnder(root, rel, field string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "", invalid(field, "path is empty")
	}
	clean := filepath.Clean(strings.TrimLeft(filepath.FromSlash(rel), string(filepath.Separator)))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", invalid(field, "path %q escapes the public directory", rel)
	}

	abs := filepath.Join(root, clean)
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", invalid(field, "file not found: %s", rel)
		}
		return "", fmt.Errorf("stat %s: %w", abs, err)
	}
	if !info.Mode().IsRegular() {
		return "", invalid(field, "not a regular file: %s", rel)
	}
	return abs, nil
}

// partialPath is a hidden sibling of final that keeps its extension, so ffmpeg
// still picks the right muxer
func partialPath(final string) string {
	dir, base := filepath.Split(final)
	ext := filepath.Ext(base)
	return filepath.Join(dir, "."+strings.TrimSuffix(base, ext)+".partial"+ext)
}

// commit moves a finished partial file onto its final name
func commit(partial, final string) error {
	if _, err := os.Stat(partial); err != nil {
		return fmt.Errorf("missing output %s: %w", partial, err)
	}
	if err := renameFunc(partial, final); err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("failed to move %s into place: %w", filepath.Base(final), err)
	}
	return nil
}

// copyFile copies src to dst byte for byte through a partial file
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	partial := partialPath(dst)
	out, err := os.Create(partial)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(partial)
		return fmt.Errorf("failed to copy %s: %w", filepath.Base(src), err)
	}
	if err := out.Close(); err != nil {
		os.Remove(partial)
		return err
	}
	return commit(partial, dst)
}

func publicURL(name string) string {
	return URLPrefix + "/" + name
}
