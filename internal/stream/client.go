// Package stream connects to the transaction stream service and feeds
// ordered batches into a bounded queue.
package stream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	grpcPrometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"

	"graffio/internal/model"
)

// Metrics receives stream client observations.
type Metrics interface {
	ObserveReceive(err error, transactions int, started time.Time)
	SetQueueDepth(n int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveReceive(error, int, time.Time) {}
func (nopMetrics) SetQueueDepth(int) {}

// Client opens GetTransactions streams.
type Client struct {
	cfg     Config
	logger  *zap.Logger
	metrics Metrics
	dialOps []grpc.DialOption
}

// Option customises a Client.
type Option func(*Client)

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithDialOptions appends gRPC dial options, e.g. a bufconn dialer in tests.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) {
		c.dialOps = append(c.dialOps, opts...)
	}
}

// NewClient applies defaults to cfg and validates it. No connection is made
// until Start.
func NewClient(cfg Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:     cfg,
		logger:  logger.Named("stream"),
		metrics: nopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the effective configuration, defaults applied.
func (c *Client) Config() Config {
	return c.cfg
}

// ResolveStartingVersion applies the configured override and initial version
// around the stored checkpoint.
func (c *Client) ResolveStartingVersion(fromDB *uint64) (uint64, Origin) {
	return ResolveStartingVersion(c.cfg.StartingVersionOverride, fromDB, c.cfg.InitialStartingVersion,
		c.logger.With(zap.String("processor_name", c.cfg.RequestName)))
}

// Handle is a running stream. Batches is closed when the producer stops;
// Wait then reports why.
type Handle struct {
	Batches <-chan model.Batch

	done chan struct{}
	err  error
	conn *grpc.ClientConn
}

// Wait blocks until the producer exits. A clean end of stream returns nil.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

func (h *Handle) finish(err error) {
	h.err = err
	_ = h.conn.Close()
	close(h.done)
}

func (c *Client) dialOptions(useTLS bool) []grpc.DialOption {
	creds := insecure.NewCredentials()
	if useTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                c.cfg.PingInterval,
			Timeout:             c.cfg.PingTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.UseCompressor(gzip.Name),
			grpc.MaxCallRecvMsgSize(c.cfg.MaxResponseSize),
			grpc.MaxCallSendMsgSize(c.cfg.MaxResponseSize),
		),
		grpc.WithStreamInterceptor(grpcPrometheus.StreamClientInterceptor),
	}
	return append(opts, c.dialOps...)
}

// Start connects, issues the request and spawns the producer that fills the
// queue. The producer stops on end of stream, a receive error or ctx.
func (c *Client) Start(ctx context.Context, startingVersion uint64) (*Handle, error) {
	count, err := TransactionCount(startingVersion, c.cfg.EndingVersion)
	if err != nil {
		return nil, err
	}
	dialTarget, useTLS, err := target(c.cfg.Address)
	if err != nil {
		return nil, err
	}

	logger := c.logger.With(
		zap.String("processor_name", c.cfg.RequestName),
		zap.String("stream_address", c.cfg.Address),
	)
	logger.Info("connecting to stream")

	conn, err := grpc.NewClient(dialTarget, c.dialOptions(useTLS)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToConnect, err)
	}

	streamCtx := metadata.AppendToOutgoingContext(ctx,
		AuthHeader, c.cfg.AuthToken,
		RequestNameHeader, c.cfg.RequestName,
	)
	clientStream, err := conn.NewStream(streamCtx, &getTransactionsStream, GetTransactionsRoute)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: open stream: %v", ErrFailedToConnect, err)
	}
	req := encodeRequest(&GetTransactionsRequest{StartingVersion: &startingVersion, TransactionsCount: count})
	if err := clientStream.SendMsg(req); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: send request: %v", ErrFailedToConnect, err)
	}
	if err := clientStream.CloseSend(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: close send: %v", ErrFailedToConnect, err)
	}

	batches := make(chan model.Batch, c.cfg.BufferSize)
	h := &Handle{Batches: batches, done: make(chan struct{}), conn: conn}

	fields := []zap.Field{zap.Uint64("starting_version", startingVersion)}
	if count != nil {
		fields = append(fields, zap.Uint64("transactions_count", *count))
	}
	logger.Info("stream opened, starting fetcher", fields...)

	go func() {
		err := c.produce(ctx, clientStream, batches, logger)
		close(batches)
		h.finish(err)
	}()
	return h, nil
}

func (c *Client) produce(ctx context.Context, clientStream grpc.ClientStream, out chan<- model.Batch, logger *zap.Logger) error {
	lastInsert := time.Now()
	for {
		started := time.Now()
		msg := newResponseMessage()
		err := clientStream.RecvMsg(msg)
		if errors.Is(err, io.EOF) {
			c.metrics.ObserveReceive(nil, 0, started)
			logger.Info("stream ended")
			return nil
		}
		if err != nil {
			c.metrics.ObserveReceive(err, 0, started)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("error receiving stream response", zap.Error(err))
			return fmt.Errorf("receive: %w", err)
		}

		resp := decodeResponse(msg)
		batch, err := toBatch(resp)
		c.metrics.ObserveReceive(err, len(resp.Transactions), started)
		if err != nil {
			logger.Error("invalid stream response", zap.Error(err))
			return err
		}

		select {
		case out <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.metrics.SetQueueDepth(len(out))
		logger.Debug("received chunk of transactions",
			zap.Uint64("start_version", batch.StartVersion()),
			zap.Uint64("end_version", batch.EndVersion()),
			zap.Uint8("chain_id", batch.ChainID),
			zap.Int("channel_size", len(out)),
			zap.Float64("channel_recv_latency_in_secs", time.Since(lastInsert).Seconds()),
		)
		lastInsert = time.Now()
	}
}

func toBatch(resp *TransactionsResponse) (model.Batch, error) {
	if len(resp.Transactions) == 0 {
		return model.Batch{}, errors.New("stream response has no transactions")
	}
	if resp.ChainID == nil {
		return model.Batch{}, errors.New("stream response has no chain id")
	}
	if *resp.ChainID > math.MaxUint8 {
		return model.Batch{}, fmt.Errorf("stream response chain id %d out of range", *resp.ChainID)
	}
	return model.Batch{ChainID: uint8(*resp.ChainID), Transactions: resp.Transactions}, nil
}
