package stream

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Proto files of the transaction stream service. Only the messages and fields
// the indexer reads are declared; every other field keeps its wire bytes as
// unknown fields, so frames from newer servers still decode.
const (
	timestampProto   = "aptos/util/timestamp/timestamp.proto"
	transactionProto = "aptos/transaction/v1/transaction.proto"
	rawDataProto     = "aptos/indexer/v1/raw_data.proto"

	transactionPackage = "aptos.transaction.v1"
	indexerPackage     = "aptos.indexer.v1"
)

type descriptors struct {
	request     protoreflect.MessageDescriptor
	response    protoreflect.MessageDescriptor
	transaction protoreflect.MessageDescriptor
}

var wire = mustLoadDescriptors()

func mustLoadDescriptors() descriptors {
	d, err := loadDescriptors()
	if err != nil {
		panic(fmt.Sprintf("stream: build proto descriptors: %v", err))
	}
	return d
}

func loadDescriptors() (descriptors, error) {
	files, err := protodesc.NewFiles(&descriptorpb.FileDescriptorSet{
		File: []*descriptorpb.FileDescriptorProto{timestampFile(), transactionFile(), rawDataFile()},
	})
	if err != nil {
		return descriptors{}, err
	}
	find := func(name protoreflect.FullName) (protoreflect.MessageDescriptor, error) {
		desc, err := files.FindDescriptorByName(name)
		if err != nil {
			return nil, err
		}
		md, ok := desc.(protoreflect.MessageDescriptor)
		if !ok {
			return nil, fmt.Errorf("%s is not a message", name)
		}
		return md, nil
	}

	var d descriptors
	if d.request, err = find(indexerPackage + ".GetTransactionsRequest"); err != nil {
		return descriptors{}, err
	}
	if d.response, err = find(indexerPackage + ".TransactionsResponse"); err != nil {
		return descriptors{}, err
	}
	if d.transaction, err = find(transactionPackage + ".Transaction"); err != nil {
		return descriptors{}, err
	}
	return d, nil
}

func field(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func stringField(name string, number int32) *descriptorpb.FieldDescriptorProto {
	return field(name, number, descriptorpb.FieldDescriptorProto_TYPE_STRING)
}

func uint64Field(name string, number int32) *descriptorpb.FieldDescriptorProto {
	return field(name, number, descriptorpb.FieldDescriptorProto_TYPE_UINT64)
}

func typedField(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type, typeName string) *descriptorpb.FieldDescriptorProto {
	f := field(name, number, typ)
	f.TypeName = proto.String(typeName)
	return f
}

func messageField(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	return typedField(name, number, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, typeName)
}

func enumField(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	return typedField(name, number, descriptorpb.FieldDescriptorProto_TYPE_ENUM, typeName)
}

func repeated(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}

func inOneof(f *descriptorpb.FieldDescriptorProto, index int32) *descriptorpb.FieldDescriptorProto {
	f.OneofIndex = proto.Int32(index)
	return f
}

// optional marks a proto3 `optional` field; index is its synthetic oneof.
func optional(f *descriptorpb.FieldDescriptorProto, index int32) *descriptorpb.FieldDescriptorProto {
	f.OneofIndex = proto.Int32(index)
	f.Proto3Optional = proto.Bool(true)
	return f
}

func oneofs(names ...string) []*descriptorpb.OneofDescriptorProto {
	out := make([]*descriptorpb.OneofDescriptorProto, 0, len(names))
	for _, name := range names {
		out = append(out, &descriptorpb.OneofDescriptorProto{Name: proto.String(name)})
	}
	return out
}

type enumValue struct {
	name   string
	number int32
}

func enumType(name string, values ...enumValue) *descriptorpb.EnumDescriptorProto {
	e := &descriptorpb.EnumDescriptorProto{Name: proto.String(name)}
	for _, v := range values {
		e.Value = append(e.Value, &descriptorpb.EnumValueDescriptorProto{
			Name:   proto.String(v.name),
			Number: proto.Int32(v.number),
		})
	}
	return e
}

func messageType(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func timestampFile() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String(timestampProto),
		Package: proto.String("aptos.util.timestamp"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			messageType("Timestamp",
				field("seconds", 1, descriptorpb.FieldDescriptorProto_TYPE_INT64),
				field("nanos", 2, descriptorpb.FieldDescriptorProto_TYPE_INT32),
			),
		},
	}
}

func transactionFile() *descriptorpb.FileDescriptorProto {
	const pkg = "." + transactionPackage + "."

	txn := messageType("Transaction",
		messageField("timestamp", 1, ".aptos.util.timestamp.Timestamp"),
		uint64Field("version", 2),
		messageField("info", 3, pkg+"TransactionInfo"),
		uint64Field("epoch", 4),
		uint64Field("block_height", 5),
		enumField("type", 6, pkg+"Transaction.TransactionType"),
		inOneof(messageField("user", 10, pkg+"UserTransaction"), 0),
	)
	txn.OneofDecl = oneofs("txn_data")
	txn.EnumType = []*descriptorpb.EnumDescriptorProto{enumType("TransactionType",
		enumValue{"TRANSACTION_TYPE_UNSPECIFIED", 0},
		enumValue{"TRANSACTION_TYPE_GENESIS", 1},
		enumValue{"TRANSACTION_TYPE_BLOCK_METADATA", 2},
		enumValue{"TRANSACTION_TYPE_STATE_CHECKPOINT", 3},
		enumValue{"TRANSACTION_TYPE_USER", 4},
		enumValue{"TRANSACTION_TYPE_VALIDATOR", 20},
		enumValue{"TRANSACTION_TYPE_BLOCK_EPILOGUE", 21},
	)}

	info := messageType("TransactionInfo",
		field("hash", 1, descriptorpb.FieldDescriptorProto_TYPE_BYTES),
		field("state_change_hash", 2, descriptorpb.FieldDescriptorProto_TYPE_BYTES),
		field("event_root_hash", 3, descriptorpb.FieldDescriptorProto_TYPE_BYTES),
		uint64Field("gas_used", 5),
		field("success", 6, descriptorpb.FieldDescriptorProto_TYPE_BOOL),
		stringField("vm_status", 7),
		field("accumulator_root_hash", 8, descriptorpb.FieldDescriptorProto_TYPE_BYTES),
		repeated(messageField("changes", 9, pkg+"WriteSetChange")),
	)

	user := messageType("UserTransaction",
		messageField("request", 1, pkg+"UserTransactionRequest"),
	)

	request := messageType("UserTransactionRequest",
		stringField("sender", 1),
		uint64Field("sequence_number", 2),
		uint64Field("max_gas_amount", 3),
		uint64Field("gas_unit_price", 4),
		messageField("expiration_timestamp_secs", 5, ".aptos.util.timestamp.Timestamp"),
		messageField("payload", 6, pkg+"TransactionPayload"),
	)

	payload := messageType("TransactionPayload",
		enumField("type", 1, pkg+"TransactionPayload.Type"),
		inOneof(messageField("entry_function_payload", 3, pkg+"EntryFunctionPayload"), 0),
	)
	payload.OneofDecl = oneofs("payload")
	payload.EnumType = []*descriptorpb.EnumDescriptorProto{enumType("Type",
		enumValue{"TYPE_UNSPECIFIED", 0},
		enumValue{"TYPE_ENTRY_FUNCTION_PAYLOAD", 1},
		enumValue{"TYPE_SCRIPT_PAYLOAD", 2},
		enumValue{"TYPE_WRITE_SET_PAYLOAD", 4},
		enumValue{"TYPE_MULTISIG_PAYLOAD", 5},
	)}

	entryFunction := messageType("EntryFunctionPayload",
		messageField("function", 1, pkg+"EntryFunctionId"),
		repeated(messageField("type_arguments", 2, pkg+"MoveType")),
		repeated(stringField("arguments", 3)),
		stringField("entry_function_id_str", 4),
	)

	functionID := messageType("EntryFunctionId",
		messageField("module", 1, pkg+"MoveModuleId"),
		stringField("name", 2),
	)

	moduleID := messageType("MoveModuleId",
		stringField("address", 1),
		stringField("name", 2),
	)

	moveType := messageType("MoveType",
		enumField("type", 1, pkg+"MoveTypes"),
		inOneof(messageField("vector", 3, pkg+"MoveType"), 0),
		inOneof(messageField("struct", 4, pkg+"MoveStructTag"), 0),
		inOneof(field("generic_type_param_index", 5, descriptorpb.FieldDescriptorProto_TYPE_UINT32), 0),
		inOneof(stringField("unparsable", 7), 0),
	)
	moveType.OneofDecl = oneofs("content")

	structTag := messageType("MoveStructTag",
		stringField("address", 1),
		stringField("module", 2),
		stringField("name", 3),
		repeated(messageField("generic_type_params", 4, pkg+"MoveType")),
	)

	change := messageType("WriteSetChange",
		enumField("type", 1, pkg+"WriteSetChange.Type"),
		inOneof(messageField("write_resource", 6, pkg+"WriteResource"), 0),
		inOneof(messageField("write_table_item", 7, pkg+"WriteTableItem"), 0),
	)
	change.OneofDecl = oneofs("change")
	change.EnumType = []*descriptorpb.EnumDescriptorProto{enumType("Type",
		enumValue{"TYPE_UNSPECIFIED", 0},
		enumValue{"TYPE_DELETE_MODULE", 1},
		enumValue{"TYPE_DELETE_RESOURCE", 2},
		enumValue{"TYPE_DELETE_TABLE_ITEM", 3},
		enumValue{"TYPE_WRITE_MODULE", 4},
		enumValue{"TYPE_WRITE_RESOURCE", 5},
		enumValue{"TYPE_WRITE_TABLE_ITEM", 6},
	)}

	resource := messageType("WriteResource",
		stringField("address", 1),
		stringField("state_key_hash", 2),
		messageField("type", 3, pkg+"MoveStructTag"),
		stringField("type_str", 4),
		stringField("data", 5),
	)

	tableItem := messageType("WriteTableItem",
		stringField("state_key_hash", 1),
		stringField("handle", 2),
		stringField("key", 3),
		messageField("data", 4, pkg+"WriteTableData"),
	)

	tableData := messageType("WriteTableData",
		stringField("key", 1),
		stringField("key_type", 2),
		stringField("value", 3),
		stringField("value_type", 4),
	)

	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String(transactionProto),
		Package:    proto.String(transactionPackage),
		Syntax:     proto.String("proto3"),
		Dependency: []string{timestampProto},
		MessageType: []*descriptorpb.DescriptorProto{
			txn, info, user, request, payload, entryFunction, functionID, moduleID,
			moveType, structTag, change, resource, tableItem, tableData,
		},
		EnumType: []*descriptorpb.EnumDescriptorProto{enumType("MoveTypes",
			enumValue{"MOVE_TYPES_UNSPECIFIED", 0},
			enumValue{"MOVE_TYPES_BOOL", 1},
			enumValue{"MOVE_TYPES_U8", 2},
			enumValue{"MOVE_TYPES_U64", 3},
			enumValue{"MOVE_TYPES_U128", 4},
			enumValue{"MOVE_TYPES_ADDRESS", 5},
			enumValue{"MOVE_TYPES_SIGNER", 6},
			enumValue{"MOVE_TYPES_VECTOR", 7},
			enumValue{"MOVE_TYPES_STRUCT", 8},
			enumValue{"MOVE_TYPES_GENERIC_TYPE_PARAM", 9},
			enumValue{"MOVE_TYPES_REFERENCE", 10},
			enumValue{"MOVE_TYPES_UNPARSABLE", 11},
			enumValue{"MOVE_TYPES_U16", 12},
			enumValue{"MOVE_TYPES_U32", 13},
			enumValue{"MOVE_TYPES_U256", 14},
		)},
	}
}

func rawDataFile() *descriptorpb.FileDescriptorProto {
	request := messageType("GetTransactionsRequest",
		optional(uint64Field("starting_version", 1), 0),
		optional(uint64Field("transactions_count", 2), 1),
		optional(uint64Field("batch_size", 3), 2),
	)
	request.OneofDecl = oneofs("_starting_version", "_transactions_count", "_batch_size")

	response := messageType("TransactionsResponse",
		repeated(messageField("transactions", 1, "."+transactionPackage+".Transaction")),
		optional(uint64Field("chain_id", 2), 0),
	)
	response.OneofDecl = oneofs("_chain_id")

	return &descriptorpb.FileDescriptorProto{
		Name:        proto.String(rawDataProto),
		Package:     proto.String(indexerPackage),
		Syntax:      proto.String("proto3"),
		Dependency:  []string{transactionProto},
		MessageType: []*descriptorpb.DescriptorProto{request, response},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("RawData"),
			Method: []*descriptorpb.MethodDescriptorProto{{
				Name:            proto.String(GetTransactionsName),
				InputType:       proto.String("." + indexerPackage + ".GetTransactionsRequest"),
				OutputType:      proto.String("." + indexerPackage + ".TransactionsResponse"),
				ServerStreaming: proto.Bool(true),
			}},
		}},
	}
}
