package processor

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"graffio/internal/model"
)

const (
	// Name identifies this processor in checkpoints and stream request headers.
	Name = "CanvasProcessor"

	// CanvasTokenModuleName is the contract module whose entry functions are indexed.
	CanvasTokenModuleName = "canvas_token"

	functionCreate  = "create"
	functionDraw    = "draw"
	functionDrawOne = "draw_one"
)

// ErrMalformedPayload is returned when a matching transaction cannot be decoded.
var ErrMalformedPayload = errors.New("malformed payload")

var (
	jsonAPI        = sonic.ConfigStd
	typeAddressRex = regexp.MustCompile(`0x[0-9a-fA-F]+`)
)

// Config holds processor settings.
type Config struct {
	ContractAddress string
}

// CanvasProcessor turns canvas contract transactions into storage intents. It
// is pure and never touches storage.
type CanvasProcessor struct {
	contract       model.Address
	canvasType     string
	pixelValueType string
	logger         *zap.Logger
}

// NewCanvasProcessor builds a CanvasProcessor for the configured contract.
func NewCanvasProcessor(cfg Config, logger *zap.Logger) (*CanvasProcessor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	contract, err := model.ParseAddress(cfg.ContractAddress)
	if err != nil {
		return nil, fmt.Errorf("contract address: %w", err)
	}
	pixelValueType := fmt.Sprintf("vector<0x1::smart_table::Entry<u64, %s::%s::Pixel>>", contract, CanvasTokenModuleName)
	return &CanvasProcessor{
		contract:       contract,
		canvasType:     fmt.Sprintf("%s::%s::Canvas", contract, CanvasTokenModuleName),
		pixelValueType: normalizeTypeString(pixelValueType),
		logger:         logger,
	}, nil
}

// Name returns the processor name.
func (p *CanvasProcessor) Name() string {
	return Name
}

// Process decodes a batch covering [startVersion, endVersion]. Either every
// transaction decodes or the whole batch fails.
func (p *CanvasProcessor) Process(txns []model.Transaction, startVersion, endVersion uint64) (model.Intents, error) {
	var all model.Intents
	for i := range txns {
		intents, err := p.ProcessTransaction(&txns[i])
		if err != nil {
			return model.Intents{}, fmt.Errorf("transaction %d: %w", txns[i].Version, err)
		}
		all.Append(intents)
	}

	p.logger.Info("batch decoded",
		zap.String("processor_name", Name),
		zap.Uint64("start_version", startVersion),
		zap.Uint64("end_version", endVersion),
		zap.Int("num_canvases_to_create", len(all.Creates)),
		zap.Int("num_pixels_to_write", len(all.Writes)),
	)
	return all, nil
}

// ProcessTransaction decodes a single transaction. Transactions that do not
// call the contract's create, draw or draw_one produce no intents.
func (p *CanvasProcessor) ProcessTransaction(txn *model.Transaction) (model.Intents, error) {
	fn, payload, ok := entryFunction(txn)
	if !ok || !p.isContractFunction(fn) {
		return model.Intents{}, nil
	}

	switch fn.Name {
	case functionCreate:
		intent, ok, err := p.processCreate(txn)
		if err != nil || !ok {
			return model.Intents{}, err
		}
		return model.Intents{Creates: []model.CreateCanvasIntent{intent}}, nil
	case functionDraw, functionDrawOne:
		return p.processDraw(txn, payload)
	default:
		return model.Intents{}, nil
	}
}

func (p *CanvasProcessor) processCreate(txn *model.Transaction) (model.CreateCanvasIntent, bool, error) {
	for _, change := range txn.Info.Changes {
		if change.Type != model.WriteSetChangeWriteResource || change.WriteResource == nil {
			continue
		}
		resource := change.WriteResource
		if !p.isCanvasResource(resource) {
			continue
		}

		var canvas canvasResource
		if err := jsonAPI.UnmarshalFromString(resource.Data, &canvas); err != nil {
			return model.CreateCanvasIntent{}, false, fmt.Errorf("%w: decode Canvas: %v", ErrMalformedPayload, err)
		}
		cfg := canvas.Config
		if cfg == nil || cfg.Width == nil || cfg.Height == nil || cfg.DefaultColor == nil {
			return model.CreateCanvasIntent{}, false, fmt.Errorf("%w: Canvas is missing config fields", ErrMalformedPayload)
		}
		color, err := cfg.DefaultColor.toColor()
		if err != nil {
			return model.CreateCanvasIntent{}, false, fmt.Errorf("%w: default_color: %v", ErrMalformedPayload, err)
		}
		address, err := model.ParseAddress(resource.Address)
		if err != nil {
			return model.CreateCanvasIntent{}, false, fmt.Errorf("%w: canvas address: %v", ErrMalformedPayload, err)
		}

		return model.CreateCanvasIntent{
			CanvasAddress: address,
			Width:         uint64(*cfg.Width),
			Height:        uint64(*cfg.Height),
			DefaultColor:  color,
		}, true, nil
	}

	p.logger.Warn("create transaction without Canvas resource",
		zap.Uint64("version", txn.Version),
		zap.String("canvas_type", p.canvasType),
	)
	return model.CreateCanvasIntent{}, false, nil
}

func (p *CanvasProcessor) processDraw(txn *model.Transaction, payload *model.EntryFunctionPayload) (model.Intents, error) {
	if len(payload.Arguments) == 0 {
		return model.Intents{}, fmt.Errorf("%w: draw has no arguments", ErrMalformedPayload)
	}
	var obj objectRef
	if err := jsonAPI.UnmarshalFromString(payload.Arguments[0], &obj); err != nil {
		return model.Intents{}, fmt.Errorf("%w: decode canvas object: %v", ErrMalformedPayload, err)
	}
	canvasAddress, err := model.ParseAddress(obj.Inner)
	if err != nil {
		return model.Intents{}, fmt.Errorf("%w: canvas object address: %v", ErrMalformedPayload, err)
	}
	sender, err := model.ParseAddress(txn.User.Request.Sender)
	if err != nil {
		return model.Intents{}, fmt.Errorf("%w: sender: %v", ErrMalformedPayload, err)
	}

	var intents model.Intents
	for _, change := range txn.Info.Changes {
		if change.Type != model.WriteSetChangeWriteTableItem || change.WriteTableItem == nil {
			continue
		}
		data := change.WriteTableItem.Data
		if data == nil || normalizeTypeString(data.ValueType) != p.pixelValueType {
			continue
		}

		// A smart table buckets entries, so each write carries the whole bucket.
		var entries []pixelEntry
		if err := jsonAPI.UnmarshalFromString(data.Value, &entries); err != nil {
			return model.Intents{}, fmt.Errorf("%w: decode pixel entries: %v", ErrMalformedPayload, err)
		}
		for _, entry := range entries {
			if entry.Key == nil || entry.Value == nil || entry.Value.Color == nil || entry.Value.DrawnAtS == nil {
				return model.Intents{}, fmt.Errorf("%w: pixel entry is missing fields", ErrMalformedPayload)
			}
			color, err := entry.Value.Color.toColor()
			if err != nil {
				return model.Intents{}, fmt.Errorf("%w: pixel color: %v", ErrMalformedPayload, err)
			}
			index := uint64(*entry.Key)
			intents.Writes = append(intents.Writes, model.WritePixelIntent{
				CanvasAddress: canvasAddress,
				Index:         index,
				Color:         color,
			})
			intents.Attributions = append(intents.Attributions, model.UpdateAttributionIntent{
				CanvasAddress: canvasAddress,
				ArtistAddress: sender,
				Index:         index,
				DrawnAtSecs:   uint64(*entry.Value.DrawnAtS),
			})
		}
	}
	return intents, nil
}

func (p *CanvasProcessor) isContractFunction(fn *model.EntryFunctionID) bool {
	if fn.Module == nil || fn.Module.Name != CanvasTokenModuleName {
		return false
	}
	address, err := model.ParseAddress(fn.Module.Address)
	if err != nil {
		return false
	}
	return address == p.contract
}

func (p *CanvasProcessor) isCanvasResource(resource *model.WriteResource) bool {
	tag := resource.Type
	if tag == nil {
		return normalizeTypeString(resource.TypeStr) == p.canvasType
	}
	if tag.Module != CanvasTokenModuleName || tag.Name != "Canvas" || len(tag.GenericTypeParams) != 0 {
		return false
	}
	address, err := model.ParseAddress(tag.Address)
	if err != nil {
		return false
	}
	return address == p.contract
}

// entryFunction returns the invoked entry function of a user transaction.
func entryFunction(txn *model.Transaction) (*model.EntryFunctionID, *model.EntryFunctionPayload, bool) {
	if txn == nil || txn.Type != model.TransactionTypeUser || txn.User == nil || txn.Info == nil {
		return nil, nil, false
	}
	request := txn.User.Request
	if request == nil || request.Payload == nil {
		return nil, nil, false
	}
	payload := request.Payload.EntryFunctionPayload
	if payload == nil || payload.Function == nil {
		return nil, nil, false
	}
	return payload.Function, payload, true
}

// normalizeTypeString rewrites every address inside a Move type string to its
// canonical long form so short and long spellings compare equal.
func normalizeTypeString(typeStr string) string {
	return typeAddressRex.ReplaceAllStringFunc(typeStr, func(match string) string {
		address, err := model.ParseAddress(match)
		if err != nil {
			return match
		}
		return address.String()
	})
}
