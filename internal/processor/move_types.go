package processor

import (
	"fmt"
	"strconv"
	"strings"

	"graffio/internal/model"
)

// U64 decodes a Move u64, which the chain serializes as a JSON string. Plain
// JSON numbers are accepted as well.
type U64 uint64

func (u *U64) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return fmt.Errorf("u64 is null")
	}
	raw = strings.Trim(raw, `"`)
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("parse u64 %q: %w", raw, err)
	}
	*u = U64(v)
	return nil
}

type moveColor struct {
	R *uint8 `json:"r"`
	G *uint8 `json:"g"`
	B *uint8 `json:"b"`
}

func (c moveColor) toColor() (model.Color, error) {
	if c.R == nil || c.G == nil || c.B == nil {
		return model.Color{}, fmt.Errorf("color is missing a channel")
	}
	return model.Color{R: *c.R, G: *c.G, B: *c.B}, nil
}

type canvasConfig struct {
	Width        *U64       `json:"width"`
	Height       *U64       `json:"height"`
	DefaultColor *moveColor `json:"default_color"`
}

// canvasResource is the subset of the contract's Canvas resource the indexer reads.
type canvasResource struct {
	Config *canvasConfig `json:"config"`
}

// objectRef is a wrapped object reference, e.g. {"inner": "0x..."}.
type objectRef struct {
	Inner string `json:"inner"`
}

// pixelEntry is one element of a smart_table bucket: key is the pixel index.
type pixelEntry struct {
	Key   *U64       `json:"key"`
	Value *movePixel `json:"value"`
}

type movePixel struct {
	Color    *moveColor `json:"color"`
	DrawnAtS *U64       `json:"drawn_at_s"`
}
