package stream

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"graffio/internal/model"
)

// Enum value prefixes stripped to get the model's snake_case names.
const (
	transactionTypePrefix = "TRANSACTION_TYPE_"
	changeTypePrefix      = "TYPE_"
	payloadTypePrefix     = "TYPE_"
	moveTypePrefix        = "MOVE_TYPES_"
)

func newRequestMessage() *dynamicpb.Message {
	return dynamicpb.NewMessage(wire.request)
}

func newResponseMessage() *dynamicpb.Message {
	return dynamicpb.NewMessage(wire.response)
}

func fieldOf(m protoreflect.Message, name protoreflect.Name) protoreflect.FieldDescriptor {
	return m.Descriptor().Fields().ByName(name)
}

func getString(m protoreflect.Message, name protoreflect.Name) string {
	f := fieldOf(m, name)
	if f == nil {
		return ""
	}
	return m.Get(f).String()
}

func getUint(m protoreflect.Message, name protoreflect.Name) uint64 {
	f := fieldOf(m, name)
	if f == nil {
		return 0
	}
	return m.Get(f).Uint()
}

func getOptionalUint(m protoreflect.Message, name protoreflect.Name) *uint64 {
	f := fieldOf(m, name)
	if f == nil || !m.Has(f) {
		return nil
	}
	v := m.Get(f).Uint()
	return &v
}

func getMessage(m protoreflect.Message, name protoreflect.Name) (protoreflect.Message, bool) {
	f := fieldOf(m, name)
	if f == nil || !m.Has(f) {
		return nil, false
	}
	return m.Get(f).Message(), true
}

func getList(m protoreflect.Message, name protoreflect.Name) protoreflect.List {
	f := fieldOf(m, name)
	if f == nil || !m.Has(f) {
		return nil
	}
	return m.Get(f).List()
}

// getEnumName returns the value name without prefix, lower cased. Numbers the
// descriptor does not know yield "".
func getEnumName(m protoreflect.Message, name protoreflect.Name, prefix string) string {
	f := fieldOf(m, name)
	if f == nil {
		return ""
	}
	v := f.Enum().Values().ByNumber(m.Get(f).Enum())
	if v == nil {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(string(v.Name()), prefix))
}

func setString(m protoreflect.Message, name protoreflect.Name, v string) {
	if v != "" {
		m.Set(fieldOf(m, name), protoreflect.ValueOfString(v))
	}
}

func setUint(m protoreflect.Message, name protoreflect.Name, v uint64) {
	if v != 0 {
		m.Set(fieldOf(m, name), protoreflect.ValueOfUint64(v))
	}
}

func setOptionalUint(m protoreflect.Message, name protoreflect.Name, v *uint64) {
	if v != nil {
		m.Set(fieldOf(m, name), protoreflect.ValueOfUint64(*v))
	}
}

func setEnumName(m protoreflect.Message, name protoreflect.Name, prefix, value string) {
	f := fieldOf(m, name)
	v := f.Enum().Values().ByName(protoreflect.Name(prefix + strings.ToUpper(value)))
	if v != nil {
		m.Set(f, protoreflect.ValueOfEnum(v.Number()))
	}
}

func mutable(m protoreflect.Message, name protoreflect.Name) protoreflect.Message {
	return m.Mutable(fieldOf(m, name)).Message()
}

func appendMessage(m protoreflect.Message, name protoreflect.Name) protoreflect.Message {
	list := m.Mutable(fieldOf(m, name)).List()
	elem := list.NewElement()
	list.Append(elem)
	return elem.Message()
}

func appendString(m protoreflect.Message, name protoreflect.Name, v string) {
	m.Mutable(fieldOf(m, name)).List().Append(protoreflect.ValueOfString(v))
}

func decodeRequest(m protoreflect.Message) *GetTransactionsRequest {
	return &GetTransactionsRequest{
		StartingVersion:   getOptionalUint(m, "starting_version"),
		TransactionsCount: getOptionalUint(m, "transactions_count"),
		BatchSize:         getOptionalUint(m, "batch_size"),
	}
}

func encodeRequest(req *GetTransactionsRequest) *dynamicpb.Message {
	m := newRequestMessage()
	setOptionalUint(m, "starting_version", req.StartingVersion)
	setOptionalUint(m, "transactions_count", req.TransactionsCount)
	setOptionalUint(m, "batch_size", req.BatchSize)
	return m
}

func decodeResponse(m protoreflect.Message) *TransactionsResponse {
	resp := &TransactionsResponse{ChainID: getOptionalUint(m, "chain_id")}
	if list := getList(m, "transactions"); list != nil {
		resp.Transactions = make([]model.Transaction, 0, list.Len())
		for i := 0; i < list.Len(); i++ {
			resp.Transactions = append(resp.Transactions, decodeTransaction(list.Get(i).Message()))
		}
	}
	return resp
}

func encodeResponse(resp *TransactionsResponse) *dynamicpb.Message {
	m := newResponseMessage()
	for i := range resp.Transactions {
		encodeTransaction(appendMessage(m, "transactions"), &resp.Transactions[i])
	}
	setOptionalUint(m, "chain_id", resp.ChainID)
	return m
}

func decodeTransaction(m protoreflect.Message) model.Transaction {
	txn := model.Transaction{
		Version:     getUint(m, "version"),
		BlockHeight: getUint(m, "block_height"),
		Type:        model.TransactionType(getEnumName(m, "type", transactionTypePrefix)),
	}
	if user, ok := getMessage(m, "user"); ok {
		txn.User = &model.UserTransaction{}
		if req, ok := getMessage(user, "request"); ok {
			txn.User.Request = decodeUserRequest(req)
		}
	}
	if info, ok := getMessage(m, "info"); ok {
		txn.Info = decodeInfo(info)
	}
	return txn
}

func encodeTransaction(m protoreflect.Message, txn *model.Transaction) {
	setUint(m, "version", txn.Version)
	setUint(m, "block_height", txn.BlockHeight)
	setEnumName(m, "type", transactionTypePrefix, string(txn.Type))
	if txn.User != nil {
		user := mutable(m, "user")
		if txn.User.Request != nil {
			encodeUserRequest(mutable(user, "request"), txn.User.Request)
		}
	}
	if txn.Info != nil {
		encodeInfo(mutable(m, "info"), txn.Info)
	}
}

func decodeUserRequest(m protoreflect.Message) *model.UserTransactionRequest {
	req := &model.UserTransactionRequest{
		Sender:         getString(m, "sender"),
		SequenceNumber: getUint(m, "sequence_number"),
	}
	if ts, ok := getMessage(m, "expiration_timestamp_secs"); ok {
		if secs := ts.Get(fieldOf(ts, "seconds")).Int(); secs > 0 {
			req.ExpirationTimestampSecs = uint64(secs)
		}
	}
	if payload, ok := getMessage(m, "payload"); ok {
		req.Payload = &model.TransactionPayload{Type: getEnumName(payload, "type", payloadTypePrefix)}
		if entry, ok := getMessage(payload, "entry_function_payload"); ok {
			req.Payload.EntryFunctionPayload = decodeEntryFunction(entry)
		}
	}
	return req
}

func encodeUserRequest(m protoreflect.Message, req *model.UserTransactionRequest) {
	setString(m, "sender", req.Sender)
	setUint(m, "sequence_number", req.SequenceNumber)
	if req.ExpirationTimestampSecs != 0 {
		ts := mutable(m, "expiration_timestamp_secs")
		ts.Set(fieldOf(ts, "seconds"), protoreflect.ValueOfInt64(int64(req.ExpirationTimestampSecs)))
	}
	if req.Payload != nil {
		payload := mutable(m, "payload")
		setEnumName(payload, "type", payloadTypePrefix, req.Payload.Type)
		if req.Payload.EntryFunctionPayload != nil {
			encodeEntryFunction(mutable(payload, "entry_function_payload"), req.Payload.EntryFunctionPayload)
		}
	}
}

func decodeEntryFunction(m protoreflect.Message) *model.EntryFunctionPayload {
	entry := &model.EntryFunctionPayload{}
	if fn, ok := getMessage(m, "function"); ok {
		entry.Function = &model.EntryFunctionID{Name: getString(fn, "name")}
		if module, ok := getMessage(fn, "module"); ok {
			entry.Function.Module = &model.MoveModuleID{
				Address: getString(module, "address"),
				Name:    getString(module, "name"),
			}
		}
	}
	if list := getList(m, "type_arguments"); list != nil {
		for i := 0; i < list.Len(); i++ {
			entry.TypeArguments = append(entry.TypeArguments, moveTypeString(list.Get(i).Message()))
		}
	}
	if list := getList(m, "arguments"); list != nil {
		for i := 0; i < list.Len(); i++ {
			entry.Arguments = append(entry.Arguments, list.Get(i).String())
		}
	}
	return entry
}

func encodeEntryFunction(m protoreflect.Message, entry *model.EntryFunctionPayload) {
	if entry.Function != nil {
		fn := mutable(m, "function")
		setString(fn, "name", entry.Function.Name)
		if entry.Function.Module != nil {
			module := mutable(fn, "module")
			setString(module, "address", entry.Function.Module.Address)
			setString(module, "name", entry.Function.Module.Name)
		}
	}
	for _, arg := range entry.TypeArguments {
		encodeUnparsableType(appendMessage(m, "type_arguments"), arg)
	}
	for _, arg := range entry.Arguments {
		appendString(m, "arguments", arg)
	}
}

func decodeInfo(m protoreflect.Message) *model.TransactionInfo {
	info := &model.TransactionInfo{}
	if hash := m.Get(fieldOf(m, "hash")).Bytes(); len(hash) > 0 {
		info.Hash = hexutil.Encode(hash)
	}
	info.Success = m.Get(fieldOf(m, "success")).Bool()
	if list := getList(m, "changes"); list != nil {
		info.Changes = make([]model.WriteSetChange, 0, list.Len())
		for i := 0; i < list.Len(); i++ {
			info.Changes = append(info.Changes, decodeChange(list.Get(i).Message()))
		}
	}
	return info
}

func encodeInfo(m protoreflect.Message, info *model.TransactionInfo) {
	if info.Hash != "" {
		m.Set(fieldOf(m, "hash"), protoreflect.ValueOfBytes(common.FromHex(info.Hash)))
	}
	if info.Success {
		m.Set(fieldOf(m, "success"), protoreflect.ValueOfBool(true))
	}
	for i := range info.Changes {
		encodeChange(appendMessage(m, "changes"), &info.Changes[i])
	}
}

func decodeChange(m protoreflect.Message) model.WriteSetChange {
	change := model.WriteSetChange{
		Type: model.WriteSetChangeType(getEnumName(m, "type", changeTypePrefix)),
	}
	if res, ok := getMessage(m, "write_resource"); ok {
		change.WriteResource = &model.WriteResource{
			Address:      getString(res, "address"),
			StateKeyHash: getString(res, "state_key_hash"),
			TypeStr:      getString(res, "type_str"),
			Data:         getString(res, "data"),
		}
		if tag, ok := getMessage(res, "type"); ok {
			change.WriteResource.Type = decodeStructTag(tag)
		}
	}
	if item, ok := getMessage(m, "write_table_item"); ok {
		change.WriteTableItem = &model.WriteTableItem{
			StateKeyHash: getString(item, "state_key_hash"),
			Handle:       getString(item, "handle"),
			Key:          getString(item, "key"),
		}
		if data, ok := getMessage(item, "data"); ok {
			change.WriteTableItem.Data = &model.WriteTableData{
				Key:       getString(data, "key"),
				KeyType:   getString(data, "key_type"),
				Value:     getString(data, "value"),
				ValueType: getString(data, "value_type"),
			}
		}
	}
	return change
}

func encodeChange(m protoreflect.Message, change *model.WriteSetChange) {
	setEnumName(m, "type", changeTypePrefix, string(change.Type))
	if res := change.WriteResource; res != nil {
		r := mutable(m, "write_resource")
		setString(r, "address", res.Address)
		setString(r, "state_key_hash", res.StateKeyHash)
		setString(r, "type_str", res.TypeStr)
		setString(r, "data", res.Data)
		if res.Type != nil {
			encodeStructTag(mutable(r, "type"), res.Type)
		}
	}
	if item := change.WriteTableItem; item != nil {
		t := mutable(m, "write_table_item")
		setString(t, "state_key_hash", item.StateKeyHash)
		setString(t, "handle", item.Handle)
		setString(t, "key", item.Key)
		if item.Data != nil {
			d := mutable(t, "data")
			setString(d, "key", item.Data.Key)
			setString(d, "key_type", item.Data.KeyType)
			setString(d, "value", item.Data.Value)
			setString(d, "value_type", item.Data.ValueType)
		}
	}
}

func decodeStructTag(m protoreflect.Message) *model.MoveStructTag {
	tag := &model.MoveStructTag{
		Address: getString(m, "address"),
		Module:  getString(m, "module"),
		Name:    getString(m, "name"),
	}
	if list := getList(m, "generic_type_params"); list != nil {
		for i := 0; i < list.Len(); i++ {
			tag.GenericTypeParams = append(tag.GenericTypeParams, moveTypeString(list.Get(i).Message()))
		}
	}
	return tag
}

func encodeStructTag(m protoreflect.Message, tag *model.MoveStructTag) {
	setString(m, "address", tag.Address)
	setString(m, "module", tag.Module)
	setString(m, "name", tag.Name)
	for _, param := range tag.GenericTypeParams {
		encodeUnparsableType(appendMessage(m, "generic_type_params"), param)
	}
}

// encodeUnparsableType carries a rendered Move type as the unparsable variant,
// which decodes back to the same string.
func encodeUnparsableType(m protoreflect.Message, typ string) {
	setEnumName(m, "type", moveTypePrefix, "unparsable")
	m.Set(fieldOf(m, "unparsable"), protoreflect.ValueOfString(typ))
}

// moveTypeString renders a MoveType the way Move prints it, e.g.
// vector<0x1::string::String>.
func moveTypeString(m protoreflect.Message) string {
	if inner, ok := getMessage(m, "vector"); ok {
		return "vector<" + moveTypeString(inner) + ">"
	}
	if tag, ok := getMessage(m, "struct"); ok {
		return structTagString(decodeStructTag(tag))
	}
	kind := getEnumName(m, "type", moveTypePrefix)
	switch kind {
	case "generic_type_param":
		return fmt.Sprintf("T%d", getUint(m, "generic_type_param_index"))
	case "unparsable":
		return getString(m, "unparsable")
	}
	return kind
}

func structTagString(tag *model.MoveStructTag) string {
	s := tag.Address + "::" + tag.Module + "::" + tag.Name
	if len(tag.GenericTypeParams) > 0 {
		s += "<" + strings.Join(tag.GenericTypeParams, ", ") + ">"
	}
	return s
}
