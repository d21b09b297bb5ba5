package image

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
)

func testFrame() image.Image {
	img := image.NewGray(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x * 8)})
		}
	}
	return img
}

func TestPreviewAttached(t *testing.T) {
	dir := t.TempDir()
	p := NewPreview(dir, false)
	if !p.Attached() || p.Target() != dir {
		t.Fatalf("preview for existing directory not attached, target %q", p.Target())
	}

	img := testFrame()
	if err := p.Show(img); err != nil {
		t.Fatalf("show: %v", err)
	}
	if p.Frame() != img || p.Frames() != 1 {
		t.Fatalf("unexpected frame state after show, frames %d", p.Frames())
	}

	f, err := os.Open(filepath.Join(dir, PreviewFile))
	if err != nil {
		t.Fatalf("opening preview file: %v", err)
	}
	defer f.Close()
	written, err := jpeg.Decode(f)
	if err != nil {
		t.Fatalf("decoding preview file: %v", err)
	}
	if written.Bounds() != img.Bounds() {
		t.Fatalf("preview file bounds %v, expected %v", written.Bounds(), img.Bounds())
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading target dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only %s in target dir, got %d entries", PreviewFile, len(entries))
	}
}

func TestPreviewUnattached(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	for _, target := range []string{"", missing} {
		p := NewPreview(target, false)
		if p.Attached() {
			t.Fatalf("preview for target %q unexpectedly attached", target)
		}
		if err := p.Show(testFrame()); err != nil {
			t.Fatalf("show on unattached preview: %v", err)
		}
		if p.Frames() != 1 {
			t.Fatalf("unattached preview did not keep frame")
		}
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Fatalf("unattached preview created its target: %v", err)
	}
}
