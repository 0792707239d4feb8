package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"graffio/internal/config"
	"graffio/internal/model"
	"graffio/internal/processor"
)

var jsonAPI = sonic.ConfigStd

// decodedTransaction is one output line: the intents a transaction produced.
type decodedTransaction struct {
	Version      uint64                          `json:"version"`
	Creates      []model.CreateCanvasIntent      `json:"creates,omitempty"`
	Writes       []model.WritePixelIntent        `json:"writes,omitempty"`
	Attributions []model.UpdateAttributionIntent `json:"attributions,omitempty"`
}

func runDecode(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDecode(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
	}
	if cfg.Errors == "" {
		return fmt.Errorf("errors path is required")
	}

	proc, err := processor.NewCanvasProcessor(processor.Config{ContractAddress: cfg.ContractAddress}, logger)
	if err != nil {
		return err
	}

	inputFile, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer inputFile.Close()

	outWriter, err := newJSONLWriter(cfg.Out)
	if err != nil {
		return err
	}
	defer outWriter.Close()

	errWriter, err := newJSONLWriter(cfg.Errors)
	if err != nil {
		return err
	}
	defer errWriter.Close()

	logger.Info("decode start",
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
		zap.String("contract_address", cfg.ContractAddress),
	)

	scanner := bufio.NewScanner(inputFile)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 64*1024*1024)

	var total, decoded, skipped, failed int
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		total++

		var txn model.Transaction
		if err := jsonAPI.Unmarshal(line, &txn); err != nil {
			failed++
			writeDecodeError(errWriter, model.DecodeError{Raw: string(line), Error: err.Error()})
			continue
		}

		intents, err := proc.ProcessTransaction(&txn)
		if err != nil {
			failed++
			writeDecodeError(errWriter, model.DecodeError{
				Version:  txn.Version,
				Function: functionName(&txn),
				Error:    err.Error(),
			})
			continue
		}
		if intents.Len() == 0 {
			skipped++
			continue
		}

		if err := outWriter.Write(decodedTransaction{
			Version:      txn.Version,
			Creates:      intents.Creates,
			Writes:       intents.Writes,
			Attributions: intents.Attributions,
		}); err != nil {
			return err
		}
		decoded++
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan input: %w", err)
	}

	logger.Info("decode complete",
		zap.Int("total", total),
		zap.Int("decoded", decoded),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)

	return nil
}

type jsonlWriter struct {
	file   *os.File
	writer *bufio.Writer
}

func newJSONLWriter(path string) (*jsonlWriter, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &jsonlWriter{
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

func (w *jsonlWriter) Write(value any) error {
	line, err := jsonAPI.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if _, err := w.writer.Write(line); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	return nil
}

func (w *jsonlWriter) Close() error {
	if w == nil {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

func functionName(txn *model.Transaction) string {
	if txn.User == nil || txn.User.Request == nil || txn.User.Request.Payload == nil {
		return ""
	}
	payload := txn.User.Request.Payload.EntryFunctionPayload
	if payload == nil || payload.Function == nil {
		return ""
	}
	if payload.Function.Module == nil {
		return payload.Function.Name
	}
	return payload.Function.Module.Name + "::" + payload.Function.Name
}

func writeDecodeError(writer *jsonlWriter, errRecord model.DecodeError) {
	if writer == nil {
		return
	}
	_ = writer.Write(errRecord)
}
