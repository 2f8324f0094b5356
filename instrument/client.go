// Package instrument is the session with one sequencing position. The
// decision loop reads chunks and sends control commands through a Client;
// devices (real bridges or the simulator) are served with NewHandler. Both
// sides speak Connect RPC with protobuf well-known message types.
package instrument

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/tailored-agentic-units/readfish/core/read"
)

type structClient = connect.Client[structpb.Struct, structpb.Struct]

// Client is an acquired instrument session. Methods are safe for concurrent
// use, though the decision loop calls them from a single goroutine.
type Client struct {
	cfg     Config
	baseURL string
	timeout time.Duration

	getState      *connect.Client[emptypb.Empty, wrapperspb.BoolValue]
	startStream   *structClient
	readChunks    *structClient
	unblock       *structClient
	stopReceiving *structClient
	sendMessage   *structClient
	reset         *connect.Client[emptypb.Empty, emptypb.Empty]

	encoding atomic.Value // read.Encoding
	started  atomic.Bool
	running  atomic.Bool
	released atomic.Bool
}

// DialOption configures Dial.
type DialOption func(*dialOptions)

type dialOptions struct {
	httpClient connect.HTTPClient
	baseURL    string
	options    []connect.ClientOption
}

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c connect.HTTPClient) DialOption {
	return func(o *dialOptions) { o.httpClient = c }
}

// WithBaseURL overrides the address derived from Config.Host and Port.
func WithBaseURL(url string) DialOption {
	return func(o *dialOptions) { o.baseURL = url }
}

// WithClientOptions passes options (interceptors, codecs) to every
// procedure client.
func WithClientOptions(opts ...connect.ClientOption) DialOption {
	return func(o *dialOptions) { o.options = append(o.options, opts...) }
}

// Dial acquires a session with the position described by cfg. The position
// must answer a state probe; otherwise ErrAcquire is returned and nothing
// is left to release.
func Dial(ctx context.Context, cfg Config, opts ...DialOption) (*Client, error) {
	o := dialOptions{
		httpClient: http.DefaultClient,
		baseURL:    cfg.Address(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Client{
		cfg:           cfg,
		baseURL:       o.baseURL,
		timeout:       cfg.CallTimeout(),
		getState:      connect.NewClient[emptypb.Empty, wrapperspb.BoolValue](o.httpClient, o.baseURL+ProcedureGetState, o.options...),
		startStream:   connect.NewClient[structpb.Struct, structpb.Struct](o.httpClient, o.baseURL+ProcedureStartStream, o.options...),
		readChunks:    connect.NewClient[structpb.Struct, structpb.Struct](o.httpClient, o.baseURL+ProcedureGetReadChunks, o.options...),
		unblock:       connect.NewClient[structpb.Struct, structpb.Struct](o.httpClient, o.baseURL+ProcedureUnblockRead, o.options...),
		stopReceiving: connect.NewClient[structpb.Struct, structpb.Struct](o.httpClient, o.baseURL+ProcedureStopReceivingRead, o.options...),
		sendMessage:   connect.NewClient[structpb.Struct, structpb.Struct](o.httpClient, o.baseURL+ProcedureSendMessage, o.options...),
		reset:         connect.NewClient[emptypb.Empty, emptypb.Empty](o.httpClient, o.baseURL+ProcedureReset, o.options...),
	}
	c.encoding.Store(read.Encoding(""))

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.getState.CallUnary(callCtx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrAcquire, c.baseURL, err)
	}
	c.running.Store(res.Msg.GetValue())

	return c, nil
}

// Address returns the base URL the client talks to.
func (c *Client) Address() string {
	return c.baseURL
}

// Start begins chunk streaming for channels first..last inclusive.
func (c *Client) Start(ctx context.Context, first, last int) error {
	if first < 1 || last < first {
		return fmt.Errorf("%w: %d-%d", ErrChannelRange, first, last)
	}

	req, err := structpb.NewStruct(map[string]any{
		fieldFirstChannel: first,
		fieldLastChannel:  last,
	})
	if err != nil {
		return fmt.Errorf("start stream: %w", err)
	}

	res, err := c.call(ctx, c.startStream, req)
	if err != nil {
		return wrapCall("start stream", err)
	}

	encoding := read.Encoding(res.GetFields()[fieldEncoding].GetStringValue())
	if !encoding.Valid() {
		return fmt.Errorf("start stream: %w: encoding %q", ErrMalformed, string(encoding))
	}
	c.encoding.Store(encoding)
	c.started.Store(true)
	c.running.Store(res.GetFields()[fieldRunning].GetBoolValue())
	return nil
}

// GetReadChunks returns up to batchSize chunks, one per channel. With last
// set, the most recent chunk of each channel supersedes older ones.
func (c *Client) GetReadChunks(ctx context.Context, batchSize int, last bool) (read.Batch, error) {
	if !c.started.Load() {
		return nil, ErrNotStarted
	}

	req, err := structpb.NewStruct(map[string]any{
		fieldBatchSize: batchSize,
		fieldLast:      last,
	})
	if err != nil {
		return nil, fmt.Errorf("get read chunks: %w", err)
	}

	res, err := c.call(ctx, c.readChunks, req)
	if err != nil {
		return nil, wrapCall("get read chunks", err)
	}

	batch, running, err := decodeChunks(res)
	c.running.Store(running)
	if err != nil {
		return nil, fmt.Errorf("get read chunks: %w", err)
	}
	return batch, nil
}

// UnblockRead applies reject voltage to the read for duration.
func (c *Client) UnblockRead(ctx context.Context, channel int, number uint32, id read.ReadID, duration time.Duration) error {
	req, err := encodeUnblock(read.Key{Channel: channel, Number: number}, id, duration)
	if err != nil {
		return fmt.Errorf("unblock read: %w", err)
	}
	_, err = c.call(ctx, c.unblock, req)
	return wrapCall("unblock read", err)
}

// StopReceivingRead tells the position to stop streaming chunks of the read.
func (c *Client) StopReceivingRead(ctx context.Context, channel int, number uint32) error {
	req, err := structpb.NewStruct(map[string]any{
		fieldChannel: channel,
		fieldNumber:  number,
	})
	if err != nil {
		return fmt.Errorf("stop receiving read: %w", err)
	}
	_, err = c.call(ctx, c.stopReceiving, req)
	return wrapCall("stop receiving read", err)
}

// SendMessage posts an operator notification to the position's log.
func (c *Client) SendMessage(ctx context.Context, text string, severity read.Severity) error {
	req, err := structpb.NewStruct(map[string]any{
		fieldText:     text,
		fieldSeverity: severity.String(),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	_, err = c.call(ctx, c.sendMessage, req)
	return wrapCall("send message", err)
}

// IsRunning reports whether the session is active. It turns false once the
// position reports it stopped, the connection is lost, or Reset runs.
func (c *Client) IsRunning() bool {
	return c.running.Load() && !c.released.Load()
}

// SignalEncoding returns the encoding announced by Start.
func (c *Client) SignalEncoding() read.Encoding {
	return c.encoding.Load().(read.Encoding)
}

// Reset releases the session. It may be called after a partial failure;
// only the first call reaches the position.
func (c *Client) Reset(ctx context.Context) error {
	if !c.released.CompareAndSwap(false, true) {
		return nil
	}
	c.running.Store(false)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.reset.CallUnary(callCtx, connect.NewRequest(&emptypb.Empty{}))
	return wrapCall("reset", err)
}

func (c *Client) call(ctx context.Context, client *structClient, req *structpb.Struct) (*structpb.Struct, error) {
	if c.released.Load() {
		return nil, ErrSessionClosed
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := client.CallUnary(callCtx, connect.NewRequest(req))
	if err != nil {
		if isClosedCode(connect.CodeOf(err)) {
			c.running.Store(false)
		}
		return nil, err
	}
	return res.Msg, nil
}
