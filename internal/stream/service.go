package stream

import (
	"context"

	"google.golang.org/grpc"
	_ "google.golang.org/grpc/encoding/gzip"
	"google.golang.org/protobuf/types/dynamicpb"

	"graffio/internal/model"
)

const (
	ServiceName          = indexerPackage + ".RawData"
	GetTransactionsName  = "GetTransactions"
	GetTransactionsRoute = "/" + ServiceName + "/" + GetTransactionsName

	AuthHeader        = "x-aptos-data-authorization"
	RequestNameHeader = "x-aptos-request-name"
)

// GetTransactionsRequest opens a stream at StartingVersion. Nil fields are
// left unset on the wire.
type GetTransactionsRequest struct {
	StartingVersion   *uint64
	TransactionsCount *uint64
	BatchSize         *uint64
}

// TransactionsResponse is one batch as decoded from the wire.
type TransactionsResponse struct {
	Transactions []model.Transaction
	ChainID      *uint64
}

var getTransactionsStream = grpc.StreamDesc{
	StreamName:    GetTransactionsName,
	ServerStreams: true,
}

// RawDataServer is the server side of the transaction stream, used by fakes
// and local replay servers.
type RawDataServer interface {
	GetTransactions(*GetTransactionsRequest, TransactionsSender) error
}

// TransactionsSender sends responses on an open GetTransactions stream.
type TransactionsSender interface {
	Send(*TransactionsResponse) error
	Context() context.Context
}

type transactionsSender struct {
	grpc.ServerStream
}

func (s *transactionsSender) Send(resp *TransactionsResponse) error {
	return s.ServerStream.SendMsg(encodeResponse(resp))
}

func getTransactionsHandler(srv any, stream grpc.ServerStream) error {
	msg := dynamicpb.NewMessage(wire.request)
	if err := stream.RecvMsg(msg); err != nil {
		return err
	}
	return srv.(RawDataServer).GetTransactions(decodeRequest(msg), &transactionsSender{stream})
}

var rawDataServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RawDataServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    GetTransactionsName,
		Handler:       getTransactionsHandler,
		ServerStreams: true,
	}},
	Metadata: rawDataProto,
}

// RegisterRawDataServer registers srv on s.
func RegisterRawDataServer(s grpc.ServiceRegistrar, srv RawDataServer) {
	s.RegisterService(&rawDataServiceDesc, srv)
}
