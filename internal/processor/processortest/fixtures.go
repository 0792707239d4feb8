// Package processortest builds canvas contract transactions for tests.
package processortest

import (
	"fmt"
	"strings"

	"graffio/internal/model"
)

// Pixel is one drawn pixel inside a draw fixture.
type Pixel struct {
	Index    uint64
	Color    model.Color
	DrawnAtS uint64
}

// CreateTransaction returns a user transaction calling canvas_token::create that
// writes a Canvas resource at canvas.
func CreateTransaction(version uint64, contract, sender, canvas model.Address, width, height uint64, color model.Color) model.Transaction {
	data := fmt.Sprintf(
		`{"config":{"width":"%d","height":"%d","default_color":{"r":%d,"g":%d,"b":%d},"max_number_of_pixels_per_draw":"100"},"created_at_s":"1"}`,
		width, height, color.R, color.G, color.B,
	)
	return model.Transaction{
		Version: version,
		Type:    model.TransactionTypeUser,
		User:    userRequest(contract, sender, "create", nil),
		Info: &model.TransactionInfo{
			Success: true,
			Changes: []model.WriteSetChange{
				{
					Type: model.WriteSetChangeWriteResource,
					WriteResource: &model.WriteResource{
						Address: canvas.String(),
						Type:    &model.MoveStructTag{Address: "0x1", Module: "object", Name: "ObjectCore"},
						TypeStr: "0x1::object::ObjectCore",
						Data:    `{"owner":"0x1"}`,
					},
				},
				{
					Type: model.WriteSetChangeWriteResource,
					WriteResource: &model.WriteResource{
						Address: canvas.String(),
						Type:    &model.MoveStructTag{Address: contract.String(), Module: "canvas_token", Name: "Canvas"},
						TypeStr: contract.String() + "::canvas_token::Canvas",
						Data:    data,
					},
				},
			},
		},
	}
}

// DrawTransaction returns a user transaction calling function (draw or
// draw_one) on canvas with a single bucket write holding pixels.
func DrawTransaction(version uint64, function string, contract, sender, canvas model.Address, pixels ...Pixel) model.Transaction {
	entries := make([]string, 0, len(pixels))
	for _, p := range pixels {
		entries = append(entries, fmt.Sprintf(
			`{"key":"%d","value":{"color":{"r":%d,"g":%d,"b":%d},"drawn_at_s":"%d"}}`,
			p.Index, p.Color.R, p.Color.G, p.Color.B, p.DrawnAtS,
		))
	}
	args := []string{fmt.Sprintf(`{"inner":"%s"}`, canvas), `["0"]`, `["0"]`}
	return model.Transaction{
		Version: version,
		Type:    model.TransactionTypeUser,
		User:    userRequest(contract, sender, function, args),
		Info: &model.TransactionInfo{
			Success: true,
			Changes: []model.WriteSetChange{
				{
					Type: model.WriteSetChangeWriteTableItem,
					WriteTableItem: &model.WriteTableItem{
						Handle: "0x99",
						Key:    `"0"`,
						Data: &model.WriteTableData{
							Key:       `"0"`,
							KeyType:   "u64",
							Value:     "[" + strings.Join(entries, ",") + "]",
							ValueType: fmt.Sprintf("vector<0x1::smart_table::Entry<u64, %s::canvas_token::Pixel>>", contract),
						},
					},
				},
			},
		},
	}
}

// TransferTransaction returns an unrelated user transaction.
func TransferTransaction(version uint64, sender model.Address) model.Transaction {
	return model.Transaction{
		Version: version,
		Type:    model.TransactionTypeUser,
		User:    userRequest(model.MustParseAddress("0x1"), sender, "transfer", []string{`"0x2"`, `"100"`}),
		Info:    &model.TransactionInfo{Success: true},
	}
}

func userRequest(module, sender model.Address, function string, args []string) *model.UserTransaction {
	moduleName := "canvas_token"
	if function == "transfer" {
		moduleName = "aptos_account"
	}
	return &model.UserTransaction{
		Request: &model.UserTransactionRequest{
			Sender: sender.String(),
			Payload: &model.TransactionPayload{
				Type: "entry_function_payload",
				EntryFunctionPayload: &model.EntryFunctionPayload{
					Function: &model.EntryFunctionID{
						Module: &model.MoveModuleID{Address: module.String(), Name: moduleName},
						Name:   function,
					},
					Arguments: args,
				},
			},
		},
	}
}
