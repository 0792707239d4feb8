package main

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"graffio/internal/model"
	"graffio/internal/processor/processortest"
)

var (
	contract = model.MustParseAddress("0xaa")
	artist   = model.MustParseAddress("0xbb")
	canvas   = model.MustParseAddress("0xcc")
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan %s: %v", path, err)
	}
	return lines
}

func TestDecodeCommand(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "txns.jsonl")
	out := filepath.Join(dir, "out", "intents.jsonl")
	errs := filepath.Join(dir, "out", "errors.jsonl")

	txns := []model.Transaction{
		processortest.CreateTransaction(1, contract, artist, canvas, 2, 2, model.Color{R: 10, G: 10, B: 10}),
		processortest.TransferTransaction(2, artist),
		processortest.DrawTransaction(3, "draw", contract, artist, canvas,
			processortest.Pixel{Index: 3, Color: model.Color{R: 255}, DrawnAtS: 1000},
		),
	}
	var input strings.Builder
	for _, txn := range txns {
		line, err := json.Marshal(txn)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		input.Write(line)
		input.WriteString("\n")
	}
	input.WriteString("\n{not json\n")
	if err := os.WriteFile(in, []byte(input.String()), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	root := newRootCmd()
	root.SetArgs([]string{"decode",
		"--in", in,
		"--out", out,
		"--errors", errs,
		"--contract-address", contract.String(),
		"--log-level", "error",
	})
	if err := root.Execute(); err != nil {
		t.Fatalf("decode: %v", err)
	}

	lines := readLines(t, out)
	if len(lines) != 2 {
		t.Fatalf("expected 2 decoded transactions, got %d: %v", len(lines), lines)
	}
	var created, drawn decodedTransaction
	if err := json.Unmarshal([]byte(lines[0]), &created); err != nil {
		t.Fatalf("unmarshal create: %v", err)
	}
	if created.Version != 1 || len(created.Creates) != 1 || created.Creates[0].Width != 2 {
		t.Fatalf("unexpected create line: %+v", created)
	}
	if err := json.Unmarshal([]byte(lines[1]), &drawn); err != nil {
		t.Fatalf("unmarshal draw: %v", err)
	}
	wantWrite := model.WritePixelIntent{CanvasAddress: canvas, Index: 3, Color: model.Color{R: 255}}
	if drawn.Version != 3 || len(drawn.Writes) != 1 || drawn.Writes[0] != wantWrite {
		t.Fatalf("unexpected draw line: %+v", drawn)
	}
	if len(drawn.Attributions) != 1 || drawn.Attributions[0].ArtistAddress != artist {
		t.Fatalf("unexpected attributions: %+v", drawn.Attributions)
	}

	errLines := readLines(t, errs)
	if len(errLines) != 1 {
		t.Fatalf("expected 1 decode error, got %d", len(errLines))
	}
	var decodeErr model.DecodeError
	if err := json.Unmarshal([]byte(errLines[0]), &decodeErr); err != nil {
		t.Fatalf("unmarshal decode error: %v", err)
	}
	if decodeErr.Error == "" || decodeErr.Raw != "{not json" {
		t.Fatalf("expected error text and raw line, got %+v", decodeErr)
	}
}

func TestDecodeCommandRequiresInput(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"decode", "--contract-address", contract.String(), "--log-level", "error"})
	root.SetErr(&strings.Builder{})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected error without --in")
	}
}

func TestFunctionName(t *testing.T) {
	txn := processortest.DrawTransaction(1, "draw_one", contract, artist, canvas)
	if got := functionName(&txn); got != "canvas_token::draw_one" {
		t.Fatalf("unexpected function name %q", got)
	}
	if got := functionName(&model.Transaction{}); got != "" {
		t.Fatalf("expected empty name, got %q", got)
	}
}

func TestSupervise(t *testing.T) {
	if err := supervise("api", func() error { return nil })(); err == nil {
		t.Fatalf("expected a clean exit to be reported as failure")
	}
}
