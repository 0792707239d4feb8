package indexer

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"testing"

	"graffio/internal/model"
	"graffio/internal/processor"
	"graffio/internal/processor/processortest"
	"graffio/internal/storage/memory"
	"graffio/internal/storage/raster"
)

var (
	contract = model.MustParseAddress("0xAA")
	artist   = model.MustParseAddress("0xBB")
	canvas   = model.MustParseAddress("0xCC")
	grey     = model.Color{R: 10, G: 10, B: 10}
	red      = model.Color{R: 255}
)

type harness struct {
	pixels   *raster.MemoryStorage
	metadata *memory.Store
	batches  chan model.Batch
	disp     *Dispatcher
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	proc, err := processor.NewCanvasProcessor(processor.Config{ContractAddress: contract.String()}, nil)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	h := &harness{
		pixels:   raster.NewMemoryStorage(),
		metadata: memory.New(),
		batches:  make(chan model.Batch, 8),
	}
	h.disp, err = NewDispatcher(cfg, h.batches, proc, h.pixels, h.metadata, nil, nil)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return h
}

// run feeds batches, closes the queue and returns Run's error.
func (h *harness) run(batches ...model.Batch) error {
	for _, b := range batches {
		h.batches <- b
	}
	close(h.batches)
	return h.disp.Run(context.Background())
}

func (h *harness) checkpoint(t *testing.T) (uint64, bool) {
	t.Helper()
	v, ok, err := h.metadata.ReadLastProcessedVersion(context.Background(), processor.Name)
	if err != nil {
		t.Fatalf("read checkpoint: %v", err)
	}
	return v, ok
}

func scenarioBatch() model.Batch {
	return model.Batch{ChainID: 1, Transactions: []model.Transaction{
		processortest.CreateTransaction(100, contract, artist, canvas, 2, 1, grey),
		processortest.DrawTransaction(101, "draw", contract, artist, canvas,
			processortest.Pixel{Index: 0, Color: red, DrawnAtS: 1000}),
	}}
}

func TestDispatchScenario(t *testing.T) {
	h := newHarness(t, Config{StartingVersion: 100})
	if err := h.run(scenarioBatch()); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}

	if v, ok := h.checkpoint(t); !ok || v != 101 {
		t.Fatalf("expected checkpoint 101, got %d (ok=%v)", v, ok)
	}

	data, err := h.pixels.CanvasPNG(context.Background(), canvas)
	if err != nil {
		t.Fatalf("canvas png: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 2 || b.Dy() != 1 {
		t.Fatalf("expected 2x1 image, got %v", b)
	}
	for x, want := range []model.Color{red, grey} {
		r, g, b, _ := img.At(x, 0).RGBA()
		got := model.Color{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8)}
		if got != want {
			t.Fatalf("pixel %d: expected %+v, got %+v", x, want, got)
		}
	}

	a, ok, err := h.metadata.Attribution(context.Background(), canvas, 0)
	if err != nil || !ok {
		t.Fatalf("expected attribution, ok=%v err=%v", ok, err)
	}
	if a.ArtistAddress != artist || a.DrawnAtSecs != 1000 {
		t.Fatalf("unexpected attribution %+v", a)
	}

	id, ok, err := h.metadata.ReadChainID(context.Background())
	if err != nil || !ok || id != 1 {
		t.Fatalf("expected chain id 1 recorded, got %d ok=%v err=%v", id, ok, err)
	}
}

func TestDispatchStorageFailureKeepsCheckpoint(t *testing.T) {
	h := newHarness(t, Config{StartingVersion: 100})
	first := model.Batch{ChainID: 1, Transactions: []model.Transaction{
		processortest.TransferTransaction(100, artist),
	}}
	// Draw on a canvas that was never created.
	second := model.Batch{ChainID: 1, Transactions: []model.Transaction{
		processortest.DrawTransaction(101, "draw_one", contract, artist, canvas,
			processortest.Pixel{Index: 0, Color: red, DrawnAtS: 5}),
	}}

	err := h.run(first, second)
	if !errors.Is(err, raster.ErrCanvasNotFound) {
		t.Fatalf("expected ErrCanvasNotFound, got %v", err)
	}
	if v, ok := h.checkpoint(t); !ok || v != 100 {
		t.Fatalf("expected checkpoint to stay at 100, got %d (ok=%v)", v, ok)
	}
	if h.metadata.Len() != 0 {
		t.Fatalf("expected no attribution writes, got %d", h.metadata.Len())
	}
}

func TestDispatchOutOfRangeIndexFails(t *testing.T) {
	h := newHarness(t, Config{StartingVersion: 100})
	batch := model.Batch{ChainID: 1, Transactions: []model.Transaction{
		processortest.CreateTransaction(100, contract, artist, canvas, 2, 1, grey),
		processortest.DrawTransaction(101, "draw", contract, artist, canvas,
			processortest.Pixel{Index: 2, Color: red, DrawnAtS: 5}),
	}}
	if err := h.run(batch); !errors.Is(err, raster.ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
	if _, ok := h.checkpoint(t); ok {
		t.Fatalf("expected no checkpoint")
	}
}

func TestDispatchMalformedPayloadFails(t *testing.T) {
	h := newHarness(t, Config{StartingVersion: 7})
	txn := processortest.DrawTransaction(7, "draw", contract, artist, canvas)
	txn.User.Request.Payload.EntryFunctionPayload.Arguments[0] = `{"inner":`
	err := h.run(model.Batch{ChainID: 1, Transactions: []model.Transaction{txn}})
	if !errors.Is(err, processor.ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
	if _, ok := h.checkpoint(t); ok {
		t.Fatalf("expected no checkpoint")
	}
}

func TestDispatchChainIDMismatch(t *testing.T) {
	h := newHarness(t, Config{StartingVersion: 1})
	a := model.Batch{ChainID: 1, Transactions: []model.Transaction{processortest.TransferTransaction(1, artist)}}
	b := model.Batch{ChainID: 2, Transactions: []model.Transaction{processortest.TransferTransaction(2, artist)}}
	if err := h.run(a, b); !errors.Is(err, ErrChainIDMismatch) {
		t.Fatalf("expected ErrChainIDMismatch, got %v", err)
	}
	if v, _ := h.checkpoint(t); v != 1 {
		t.Fatalf("expected checkpoint 1, got %d", v)
	}
}

func TestDispatchChainIDMismatchAcrossRestart(t *testing.T) {
	h := newHarness(t, Config{StartingVersion: 1})
	if err := h.metadata.WriteChainID(context.Background(), 4); err != nil {
		t.Fatalf("seed chain id: %v", err)
	}
	batch := model.Batch{ChainID: 1, Transactions: []model.Transaction{processortest.TransferTransaction(1, artist)}}
	if err := h.run(batch); !errors.Is(err, ErrChainIDMismatch) {
		t.Fatalf("expected ErrChainIDMismatch, got %v", err)
	}
}

func TestDispatchRejectsOutOfOrder(t *testing.T) {
	tests := []struct {
		name    string
		batches []model.Batch
	}{
		{
			name: "first batch past start",
			batches: []model.Batch{
				{ChainID: 1, Transactions: []model.Transaction{processortest.TransferTransaction(11, artist)}},
			},
		},
		{
			name: "gap",
			batches: []model.Batch{
				{ChainID: 1, Transactions: []model.Transaction{processortest.TransferTransaction(10, artist)}},
				{ChainID: 1, Transactions: []model.Transaction{processortest.TransferTransaction(12, artist)}},
			},
		},
		{
			name: "overlap",
			batches: []model.Batch{
				{ChainID: 1, Transactions: []model.Transaction{
					processortest.TransferTransaction(10, artist),
					processortest.TransferTransaction(11, artist),
				}},
				{ChainID: 1, Transactions: []model.Transaction{processortest.TransferTransaction(11, artist)}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{StartingVersion: 10})
			if err := h.run(tt.batches...); !errors.Is(err, ErrOutOfOrderBatch) {
				t.Fatalf("expected ErrOutOfOrderBatch, got %v", err)
			}
		})
	}
}

func TestDispatchResumeReappliesCheckpointedVersion(t *testing.T) {
	h := newHarness(t, Config{StartingVersion: 100})
	if err := h.run(scenarioBatch()); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("first run: %v", err)
	}

	// The stream resumes at the checkpoint itself, so version 101 arrives again.
	proc, _ := processor.NewCanvasProcessor(processor.Config{ContractAddress: contract.String()}, nil)
	batches := make(chan model.Batch, 1)
	batches <- model.Batch{ChainID: 1, Transactions: []model.Transaction{
		processortest.DrawTransaction(101, "draw", contract, artist, canvas,
			processortest.Pixel{Index: 0, Color: red, DrawnAtS: 1000}),
	}}
	close(batches)
	d, err := NewDispatcher(Config{StartingVersion: 101}, batches, proc, h.pixels, h.metadata, nil, nil)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if err := d.Run(context.Background()); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("second run: %v", err)
	}
	if v, _ := h.checkpoint(t); v != 101 {
		t.Fatalf("expected checkpoint 101, got %d", v)
	}
	if h.metadata.Len() != 1 {
		t.Fatalf("expected 1 attribution, got %d", h.metadata.Len())
	}
}

func TestDispatchSkipsEmptyBatch(t *testing.T) {
	h := newHarness(t, Config{StartingVersion: 5})
	if err := h.run(model.Batch{ChainID: 1}); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
	if _, ok := h.checkpoint(t); ok {
		t.Fatalf("expected no checkpoint for empty batch")
	}
}

type countingMetadata struct {
	*memory.Store
	calls int
}

func (c *countingMetadata) UpdateAttributions(ctx context.Context, intents []model.UpdateAttributionIntent) error {
	c.calls++
	return c.Store.UpdateAttributions(ctx, intents)
}

func TestDispatchChunksAttributions(t *testing.T) {
	proc, err := processor.NewCanvasProcessor(processor.Config{ContractAddress: contract.String()}, nil)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	meta := &countingMetadata{Store: memory.New()}
	batches := make(chan model.Batch, 1)
	batches <- model.Batch{ChainID: 1, Transactions: []model.Transaction{
		processortest.CreateTransaction(0, contract, artist, canvas, 4, 1, grey),
		processortest.DrawTransaction(1, "draw", contract, artist, canvas,
			processortest.Pixel{Index: 0, Color: red, DrawnAtS: 1},
			processortest.Pixel{Index: 1, Color: red, DrawnAtS: 1},
			processortest.Pixel{Index: 2, Color: red, DrawnAtS: 1},
		),
	}}
	close(batches)

	d, err := NewDispatcher(Config{AttributionBatchSize: 2, Concurrency: 8}, batches, proc, raster.NewMemoryStorage(), meta, nil, nil)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if err := d.Run(context.Background()); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
	if meta.calls != 2 {
		t.Fatalf("expected 2 attribution calls, got %d", meta.calls)
	}
	if meta.Len() != 3 {
		t.Fatalf("expected 3 attributions, got %d", meta.Len())
	}
}

func TestDispatchStopsOnCancel(t *testing.T) {
	h := newHarness(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.disp.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDispatchReplayBelowCheckpointKeepsIt(t *testing.T) {
	h := newHarness(t, Config{StartingVersion: 100})
	if err := h.metadata.WriteLastProcessedVersion(context.Background(), processor.Name, 500); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}
	if err := h.run(scenarioBatch()); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
	if v, _ := h.checkpoint(t); v != 500 {
		t.Fatalf("expected checkpoint to stay at 500, got %d", v)
	}
	if h.metadata.Len() != 1 {
		t.Fatalf("expected replayed attribution, got %d", h.metadata.Len())
	}
	if _, err := h.pixels.CanvasPNG(context.Background(), canvas); err != nil {
		t.Fatalf("expected replayed canvas: %v", err)
	}
}

func TestDispatchReplayPastCheckpointAdvancesIt(t *testing.T) {
	h := newHarness(t, Config{StartingVersion: 10})
	if err := h.metadata.WriteLastProcessedVersion(context.Background(), processor.Name, 11); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}
	err := h.run(
		model.Batch{ChainID: 1, Transactions: []model.Transaction{processortest.TransferTransaction(10, artist)}},
		model.Batch{ChainID: 1, Transactions: []model.Transaction{
			processortest.TransferTransaction(11, artist),
			processortest.TransferTransaction(12, artist),
		}},
	)
	if !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
	if v, _ := h.checkpoint(t); v != 12 {
		t.Fatalf("expected checkpoint 12, got %d", v)
	}
}

func TestDispatchOutOfOrderFirstBatchRecordsNoChainID(t *testing.T) {
	h := newHarness(t, Config{StartingVersion: 10})
	batch := model.Batch{ChainID: 3, Transactions: []model.Transaction{processortest.TransferTransaction(11, artist)}}
	if err := h.run(batch); !errors.Is(err, ErrOutOfOrderBatch) {
		t.Fatalf("expected ErrOutOfOrderBatch, got %v", err)
	}
	if _, ok, err := h.metadata.ReadChainID(context.Background()); err != nil || ok {
		t.Fatalf("expected no chain id recorded, ok=%v err=%v", ok, err)
	}
}
