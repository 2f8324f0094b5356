package instrument

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/tailored-agentic-units/readfish/core/read"
)

// Device is the position side of a session. Implementations own the read
// cache their transport fills; ReadChunks pops from it.
type Device interface {
	Running() bool
	StartStream(ctx context.Context, first, last int) (read.Encoding, error)
	ReadChunks(ctx context.Context, n int, last bool) (read.Batch, error)
	Unblock(ctx context.Context, key read.Key, id read.ReadID, duration time.Duration) error
	StopReceiving(ctx context.Context, key read.Key) error
	Message(ctx context.Context, text string, severity read.Severity) error
	Reset(ctx context.Context) error
}

// NewHandler mounts every procedure of the device service for d. The
// returned path is the service prefix to register on a mux.
func NewHandler(d Device, opts ...connect.HandlerOption) (string, http.Handler) {
	h := &handler{device: d}
	mux := http.NewServeMux()

	mux.Handle(ProcedureGetState, connect.NewUnaryHandler(ProcedureGetState, h.getState, opts...))
	mux.Handle(ProcedureStartStream, connect.NewUnaryHandler(ProcedureStartStream, h.startStream, opts...))
	mux.Handle(ProcedureGetReadChunks, connect.NewUnaryHandler(ProcedureGetReadChunks, h.getReadChunks, opts...))
	mux.Handle(ProcedureUnblockRead, connect.NewUnaryHandler(ProcedureUnblockRead, h.unblockRead, opts...))
	mux.Handle(ProcedureStopReceivingRead, connect.NewUnaryHandler(ProcedureStopReceivingRead, h.stopReceivingRead, opts...))
	mux.Handle(ProcedureSendMessage, connect.NewUnaryHandler(ProcedureSendMessage, h.sendMessage, opts...))
	mux.Handle(ProcedureReset, connect.NewUnaryHandler(ProcedureReset, h.reset, opts...))

	return ServicePath, mux
}

type handler struct {
	device Device
}

func (h *handler) getState(ctx context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[wrapperspb.BoolValue], error) {
	return connect.NewResponse(wrapperspb.Bool(h.device.Running())), nil
}

func (h *handler) startStream(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	f := req.Msg.GetFields()
	first := int(f[fieldFirstChannel].GetNumberValue())
	last := int(f[fieldLastChannel].GetNumberValue())
	if first < 1 || last < first {
		return nil, deviceError(fmt.Errorf("%w: %d-%d", ErrChannelRange, first, last))
	}

	encoding, err := h.device.StartStream(ctx, first, last)
	if err != nil {
		return nil, deviceError(err)
	}

	res, err := structpb.NewStruct(map[string]any{
		fieldEncoding: string(encoding),
		fieldRunning:  h.device.Running(),
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(res), nil
}

func (h *handler) getReadChunks(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	f := req.Msg.GetFields()
	n := int(f[fieldBatchSize].GetNumberValue())
	if n < 1 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("batch size %d", n))
	}

	batch, err := h.device.ReadChunks(ctx, n, f[fieldLast].GetBoolValue())
	if err != nil {
		return nil, deviceError(err)
	}

	res, err := encodeChunks(batch, h.device.Running())
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(res), nil
}

func (h *handler) unblockRead(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	key, err := decodeKey(req.Msg)
	if err != nil {
		return nil, deviceError(err)
	}
	f := req.Msg.GetFields()
	id := read.ReadID(f[fieldReadID].GetStringValue())
	if id == "" {
		return nil, deviceError(fmt.Errorf("%w: empty read id", ErrInvalidRead))
	}

	if err := h.device.Unblock(ctx, key, id, seconds(f[fieldDuration].GetNumberValue())); err != nil {
		return nil, deviceError(err)
	}
	return connect.NewResponse(&structpb.Struct{}), nil
}

func (h *handler) stopReceivingRead(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	key, err := decodeKey(req.Msg)
	if err != nil {
		return nil, deviceError(err)
	}
	if err := h.device.StopReceiving(ctx, key); err != nil {
		return nil, deviceError(err)
	}
	return connect.NewResponse(&structpb.Struct{}), nil
}

func (h *handler) sendMessage(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	f := req.Msg.GetFields()
	severity := read.ParseSeverity(f[fieldSeverity].GetStringValue())
	if err := h.device.Message(ctx, f[fieldText].GetStringValue(), severity); err != nil {
		return nil, deviceError(err)
	}
	return connect.NewResponse(&structpb.Struct{}), nil
}

func (h *handler) reset(ctx context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[emptypb.Empty], error) {
	if err := h.device.Reset(ctx); err != nil {
		return nil, deviceError(err)
	}
	return connect.NewResponse(&emptypb.Empty{}), nil
}
