package model

// TransactionType mirrors the transaction kinds delivered by the stream.
type TransactionType string

const (
	TransactionTypeGenesis         TransactionType = "genesis"
	TransactionTypeBlockMetadata   TransactionType = "block_metadata"
	TransactionTypeStateCheckpoint TransactionType = "state_checkpoint"
	TransactionTypeUser            TransactionType = "user"
	TransactionTypeValidator       TransactionType = "validator"
	TransactionTypeBlockEpilogue   TransactionType = "block_epilogue"
)

// Transaction is a ledger transaction as delivered by the stream service.
type Transaction struct {
	Version     uint64           `json:"version"`
	BlockHeight uint64           `json:"block_height,omitempty"`
	Type        TransactionType  `json:"type"`
	User        *UserTransaction `json:"user,omitempty"`
	Info        *TransactionInfo `json:"info,omitempty"`
}

// UserTransaction holds the user-submitted part of a transaction.
type UserTransaction struct {
	Request *UserTransactionRequest `json:"request,omitempty"`
}

// UserTransactionRequest is the signed request of a user transaction.
type UserTransactionRequest struct {
	Sender                  string              `json:"sender"`
	SequenceNumber          uint64              `json:"sequence_number"`
	ExpirationTimestampSecs uint64              `json:"expiration_timestamp_secs,omitempty"`
	Payload                 *TransactionPayload `json:"payload,omitempty"`
}

// TransactionPayload wraps the call carried by a user transaction. Only entry
// function payloads are meaningful to the indexer.
type TransactionPayload struct {
	Type                 string                `json:"type"`
	EntryFunctionPayload *EntryFunctionPayload `json:"entry_function_payload,omitempty"`
}

// EntryFunctionPayload names the invoked function and its JSON-encoded arguments.
type EntryFunctionPayload struct {
	Function      *EntryFunctionID `json:"function,omitempty"`
	TypeArguments []string         `json:"type_arguments,omitempty"`
	Arguments     []string         `json:"arguments,omitempty"`
}

// EntryFunctionID identifies module address + module name + function name.
type EntryFunctionID struct {
	Module *MoveModuleID `json:"module,omitempty"`
	Name   string        `json:"name"`
}

// MoveModuleID identifies a module.
type MoveModuleID struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// TransactionInfo carries execution results, including state changes.
type TransactionInfo struct {
	Hash    string           `json:"hash,omitempty"`
	Success bool             `json:"success"`
	Changes []WriteSetChange `json:"changes,omitempty"`
}

// WriteSetChangeType names the kind of state change.
type WriteSetChangeType string

const (
	WriteSetChangeDeleteModule    WriteSetChangeType = "delete_module"
	WriteSetChangeDeleteResource  WriteSetChangeType = "delete_resource"
	WriteSetChangeDeleteTableItem WriteSetChangeType = "delete_table_item"
	WriteSetChangeWriteModule     WriteSetChangeType = "write_module"
	WriteSetChangeWriteResource   WriteSetChangeType = "write_resource"
	WriteSetChangeWriteTableItem  WriteSetChangeType = "write_table_item"
)

// WriteSetChange is a single state-change record.
type WriteSetChange struct {
	Type           WriteSetChangeType `json:"type"`
	WriteResource  *WriteResource     `json:"write_resource,omitempty"`
	WriteTableItem *WriteTableItem    `json:"write_table_item,omitempty"`
}

// WriteResource records a resource written at an address.
type WriteResource struct {
	Address      string         `json:"address"`
	StateKeyHash string         `json:"state_key_hash,omitempty"`
	Type         *MoveStructTag `json:"type,omitempty"`
	TypeStr      string         `json:"type_str"`
	Data         string         `json:"data"`
}

// MoveStructTag identifies a Move struct type.
type MoveStructTag struct {
	Address           string   `json:"address"`
	Module            string   `json:"module"`
	Name              string   `json:"name"`
	GenericTypeParams []string `json:"generic_type_params,omitempty"`
}

// WriteTableItem records a table entry written under a table handle.
type WriteTableItem struct {
	StateKeyHash string          `json:"state_key_hash,omitempty"`
	Handle       string          `json:"handle"`
	Key          string          `json:"key"`
	Data         *WriteTableData `json:"data,omitempty"`
}

// WriteTableData is the decoded key and value of a table write.
type WriteTableData struct {
	Key       string `json:"key"`
	KeyType   string `json:"key_type"`
	Value     string `json:"value"`
	ValueType string `json:"value_type"`
}

// Batch is a contiguous, ordered group of transactions from the stream, tagged
// with the chain it came from.
type Batch struct {
	ChainID      uint8
	Transactions []Transaction
}

// StartVersion returns the version of the first transaction.
func (b Batch) StartVersion() uint64 {
	if len(b.Transactions) == 0 {
		return 0
	}
	return b.Transactions[0].Version
}

// EndVersion returns the version of the last transaction.
func (b Batch) EndVersion() uint64 {
	if len(b.Transactions) == 0 {
		return 0
	}
	return b.Transactions[len(b.Transactions)-1].Version
}

// DecodeError records a transform failure for one transaction in offline mode.
type DecodeError struct {
	Version  uint64 `json:"version"`
	Function string `json:"function,omitempty"`
	// Raw holds the input line when it could not be parsed.
	Raw   string `json:"raw,omitempty"`
	Error string `json:"error"`
}
