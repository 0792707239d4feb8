package model

// Color is a 3-byte RGB value.
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// CreateCanvasIntent carries everything needed to create a canvas in storage.
type CreateCanvasIntent struct {
	CanvasAddress Address `json:"canvas_address"`
	Width         uint64  `json:"width"`
	Height        uint64  `json:"height"`
	DefaultColor  Color   `json:"default_color"`
}

// WritePixelIntent carries everything needed to write one pixel.
type WritePixelIntent struct {
	CanvasAddress Address `json:"canvas_address"`
	Index         uint64  `json:"index"`
	Color         Color   `json:"color"`
}

// UpdateAttributionIntent records who drew a pixel last and when.
type UpdateAttributionIntent struct {
	CanvasAddress Address `json:"canvas_address"`
	ArtistAddress Address `json:"artist_address"`
	Index         uint64  `json:"index"`
	DrawnAtSecs   uint64  `json:"drawn_at_secs"`
}

// Attribution is the stored attribution for a single pixel.
type Attribution struct {
	ArtistAddress Address `json:"artist_address"`
	DrawnAtSecs   uint64  `json:"drawn_at_secs"`
}

// Intents groups the storage mutations derived from one batch. Creates are kept
// apart so they can be applied before any write that targets the same canvas.
type Intents struct {
	Creates      []CreateCanvasIntent
	Writes       []WritePixelIntent
	Attributions []UpdateAttributionIntent
}

// Len returns the total number of intents.
func (i Intents) Len() int {
	return len(i.Creates) + len(i.Writes) + len(i.Attributions)
}

// Append adds all intents from other.
func (i *Intents) Append(other Intents) {
	i.Creates = append(i.Creates, other.Creates...)
	i.Writes = append(i.Writes, other.Writes...)
	i.Attributions = append(i.Attributions, other.Attributions...)
}
