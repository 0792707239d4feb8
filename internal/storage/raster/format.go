// Package raster stores canvases in a fixed binary format: width*height*3 bytes
// of row-major RGB triples followed by width and height as little-endian u64.
// The pixel region starts at offset 0, so pixel i lives at i*3.
package raster

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/bits"
	"sync"

	"graffio/internal/model"
)

const (
	// BytesPerPixel is the size of one RGB triple.
	BytesPerPixel = 3
	// TrailerSize is the size of the width and height trailer.
	TrailerSize = 16

	fileExtension = ".canvas"
)

var (
	ErrCanvasNotFound    = errors.New("canvas not found")
	ErrIndexOutOfRange   = errors.New("pixel index out of range")
	ErrCorruptCanvas     = errors.New("corrupt canvas")
	ErrInvalidDimensions = errors.New("invalid canvas dimensions")
)

// FileSize returns width*height*3 + 16, rejecting empty or overflowing sizes.
func FileSize(width, height uint64) (int64, error) {
	if width == 0 || height == 0 {
		return 0, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if width > math.MaxInt32 || height > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %dx%d exceeds image limits", ErrInvalidDimensions, width, height)
	}
	hi, pixels := bits.Mul64(width, height)
	if hi != 0 || pixels > (math.MaxInt64-TrailerSize)/BytesPerPixel {
		return 0, fmt.Errorf("%w: %dx%d overflows", ErrInvalidDimensions, width, height)
	}
	return int64(pixels*BytesPerPixel + TrailerSize), nil
}

// Filename returns the file name of a canvas: 0x<64 hex>.canvas.
func Filename(address model.Address) string {
	return address.String() + fileExtension
}

// PutTrailer writes width and height into the last 16 bytes of data.
func PutTrailer(data []byte, width, height uint64) {
	n := len(data)
	binary.LittleEndian.PutUint64(data[n-TrailerSize:n-8], width)
	binary.LittleEndian.PutUint64(data[n-8:], height)
}

// ReadTrailer recovers width and height and checks them against len(data).
func ReadTrailer(data []byte) (uint64, uint64, error) {
	n := len(data)
	if n < TrailerSize {
		return 0, 0, fmt.Errorf("%w: %d bytes is too short to contain width and height", ErrCorruptCanvas, n)
	}
	width := binary.LittleEndian.Uint64(data[n-TrailerSize : n-8])
	height := binary.LittleEndian.Uint64(data[n-8:])
	size, err := FileSize(width, height)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrCorruptCanvas, err)
	}
	if size != int64(n) {
		return 0, 0, fmt.Errorf("%w: %dx%d needs %d bytes, have %d", ErrCorruptCanvas, width, height, size, n)
	}
	return width, height, nil
}

// fillRow returns a buffer of count pixels set to c.
func fillRow(c model.Color, count int) []byte {
	row := make([]byte, count*BytesPerPixel)
	for i := 0; i < len(row); i += BytesPerPixel {
		row[i], row[i+1], row[i+2] = c.R, c.G, c.B
	}
	return row
}

// canvas is a width x height pixel region plus trailer, guarded for
// concurrent readers and the single dispatcher writer.
type canvas struct {
	mu     sync.RWMutex
	data   []byte
	width  uint64
	height uint64
}

func newCanvas(data []byte) (*canvas, error) {
	width, height, err := ReadTrailer(data)
	if err != nil {
		return nil, err
	}
	return &canvas{data: data, width: width, height: height}, nil
}

// check reports the first intent whose index falls outside the canvas.
func (c *canvas) check(intents []model.WritePixelIntent) error {
	pixels := c.width * c.height
	for _, intent := range intents {
		if intent.Index >= pixels {
			return fmt.Errorf("%w: index %d on %dx%d canvas %s", ErrIndexOutOfRange, intent.Index, c.width, c.height, intent.CanvasAddress)
		}
	}
	return nil
}

// set writes intents that already passed check.
func (c *canvas) set(intents []model.WritePixelIntent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, intent := range intents {
		off := intent.Index * BytesPerPixel
		c.data[off] = intent.Color.R
		c.data[off+1] = intent.Color.G
		c.data[off+2] = intent.Color.B
	}
}

// png renders the canvas as an 8-bit true-color PNG, top-left origin.
func (c *canvas) png() ([]byte, error) {
	c.mu.RLock()
	if c.data == nil {
		c.mu.RUnlock()
		return nil, ErrCanvasNotFound
	}
	width, height := int(c.width), int(c.height)
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			off := (y*width + x) * BytesPerPixel
			img.SetRGBA(x, y, color.RGBA{R: c.data[off], G: c.data[off+1], B: c.data[off+2], A: 0xff})
		}
	}
	c.mu.RUnlock()

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// groupByCanvas splits intents per canvas, keeping their relative order.
func groupByCanvas(intents []model.WritePixelIntent) ([]model.Address, map[model.Address][]model.WritePixelIntent) {
	order := make([]model.Address, 0, 1)
	groups := make(map[model.Address][]model.WritePixelIntent)
	for _, intent := range intents {
		if _, ok := groups[intent.CanvasAddress]; !ok {
			order = append(order, intent.CanvasAddress)
		}
		groups[intent.CanvasAddress] = append(groups[intent.CanvasAddress], intent)
	}
	return order, groups
}
