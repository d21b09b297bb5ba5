package image

import (
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// PreviewFile is the name of the file a preview writes into its target
// directory.
const PreviewFile = "preview.jpg"

// Preview is the live-video surface a scanner decodes against. It keeps the
// most recent frame and, when attached to a target directory, mirrors it to
// PreviewFile in that directory so other programs can display it.
type Preview struct {
	verbose bool

	mu     sync.Mutex
	target string // Empty if not attached.
	frame  image.Image
	frames int
}

// NewPreview returns a preview attached to the directory target. If target is
// empty or not an existing directory, the preview is returned unattached: it
// still keeps frames, but writes no files.
func NewPreview(target string, verbose bool) *Preview {
	p := &Preview{verbose: verbose}
	if target == "" {
		return p
	}
	fi, err := os.Stat(target)
	if err != nil || !fi.IsDir() {
		if verbose {
			log.Printf("preview target %q is not a directory, preview not attached", target)
		}
		return p
	}
	p.target = target
	return p
}

// Attached returns whether frames are written to a target directory.
func (p *Preview) Attached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target != ""
}

// Target returns the directory the preview is attached to, or the empty
// string.
func (p *Preview) Target() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

// Show makes img the current frame. For an attached preview, the frame is
// written to the target directory, replacing the previous one atomically.
func (p *Preview) Show(img image.Image) error {
	p.mu.Lock()
	p.frame = img
	p.frames++
	target := p.target
	p.mu.Unlock()

	if target == "" {
		return nil
	}

	f, err := os.CreateTemp(target, ".preview-*.jpg")
	if err != nil {
		return fmt.Errorf("creating preview file: %v", err)
	}
	tmp := f.Name()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 80}); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encoding preview: %v", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing preview file: %v", err)
	}
	if err := os.Rename(tmp, filepath.Join(target, PreviewFile)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing preview file: %v", err)
	}
	return nil
}

// Frame returns the most recently shown frame, or nil.
func (p *Preview) Frame() image.Image {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frame
}

// Frames returns the number of frames shown so far.
func (p *Preview) Frames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}
