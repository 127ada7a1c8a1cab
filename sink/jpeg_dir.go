package sink

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/ugparu/hwdec/utils/logger"
)

// JPEGDir writes every n-th frame to a directory as frame_NNNNNN.jpg.
// Receive must not be called concurrently, which the decoder guarantees.
type JPEGDir struct {
	dir      string
	everyN   uint64
	maxWidth int
	seen     uint64
	written  atomic.Uint64
}

func NewJPEGDir(dir string, everyN, maxWidth int) (*JPEGDir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:mnd // rwxr-xr-x
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	if everyN <= 0 {
		everyN = 1
	}
	return &JPEGDir{
		dir:      dir,
		everyN:   uint64(everyN),
		maxWidth: maxWidth,
		seen:     0,
		written:  atomic.Uint64{},
	}, nil
}

func (d *JPEGDir) Receive(frame image.Image) {
	d.seen++
	if (d.seen-1)%d.everyN != 0 {
		return
	}

	path := filepath.Join(d.dir, fmt.Sprintf("frame_%06d.jpg", d.seen))
	if err := d.write(path, frame); err != nil {
		logger.Warningf(d, "Failed to write %s: %v", path, err)
		return
	}
	d.written.Add(1)
	logger.Tracef(d, "Wrote %s", path)
}

func (d *JPEGDir) write(path string, frame image.Image) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()
	return jpeg.Encode(f, Scale(frame, d.maxWidth), &jpeg.Options{Quality: DefaultQuality})
}

// Written returns the number of files written.
func (d *JPEGDir) Written() uint64 {
	return d.written.Load()
}

func (d *JPEGDir) String() string {
	return "JPEG_DIR " + filepath.Base(d.dir)
}
