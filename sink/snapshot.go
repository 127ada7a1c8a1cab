// Package sink provides frame sinks for decoded pictures.
package sink

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"golang.org/x/image/draw"
)

var ErrNoFrame = errors.New("sink: no frame received yet")

const DefaultQuality = 85

// Scale resizes img to maxWidth keeping its aspect ratio. Images that are not wider
// than maxWidth, and a maxWidth <= 0, leave img as is.
func Scale(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}

	height := max(b.Dy()*maxWidth/b.Dx(), 1)
	small := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.NearestNeighbor.Scale(small, small.Rect, img, b, draw.Over, nil)
	return small
}

// Snapshot keeps the most recent frame and renders it as JPEG on demand.
type Snapshot struct {
	mu       sync.RWMutex
	frame    image.Image
	at       time.Time
	frames   uint64
	maxWidth int
}

// NewSnapshot creates a snapshot sink. JPEGs are scaled down to maxWidth, 0 keeps the original size.
func NewSnapshot(maxWidth int) *Snapshot {
	return &Snapshot{
		mu:       sync.RWMutex{},
		frame:    nil,
		at:       time.Time{},
		frames:   0,
		maxWidth: maxWidth,
	}
}

func (s *Snapshot) Receive(frame image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = frame
	s.at = time.Now()
	s.frames++
}

// Latest returns the last frame and the time it was received.
func (s *Snapshot) Latest() (image.Image, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame, s.at, s.frame != nil
}

// Frames returns the number of frames received.
func (s *Snapshot) Frames() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frames
}

// JPEG encodes the last frame.
func (s *Snapshot) JPEG() ([]byte, error) {
	frame, _, ok := s.Latest()
	if !ok {
		return nil, ErrNoFrame
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, Scale(frame, s.maxWidth), &jpeg.Options{Quality: DefaultQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
