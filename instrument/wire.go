package instrument

import (
	"encoding/base64"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tailored-agentic-units/readfish/core/read"
)

// Procedure names of the device service. Messages are protobuf well-known
// types, so no generated code is needed on either side.
const (
	ServicePath = "/readfish.instrument.v1.DeviceService/"

	ProcedureGetState          = ServicePath + "GetState"
	ProcedureStartStream       = ServicePath + "StartStream"
	ProcedureGetReadChunks     = ServicePath + "GetReadChunks"
	ProcedureUnblockRead       = ServicePath + "UnblockRead"
	ProcedureStopReceivingRead = ServicePath + "StopReceivingRead"
	ProcedureSendMessage       = ServicePath + "SendMessage"
	ProcedureReset             = ServicePath + "Reset"
)

// Field names shared by requests and responses.
const (
	fieldFirstChannel = "first_channel"
	fieldLastChannel  = "last_channel"
	fieldEncoding     = "encoding"
	fieldRunning      = "running"
	fieldBatchSize    = "batch_size"
	fieldLast         = "last"
	fieldChunks       = "chunks"
	fieldChannel      = "channel"
	fieldNumber       = "number"
	fieldReadID       = "read_id"
	fieldRaw          = "raw"
	fieldStartSample  = "start_sample"
	fieldChunkStart   = "chunk_start"
	fieldDuration     = "duration"
	fieldText         = "text"
	fieldSeverity     = "severity"
)

func encodeChunks(batch read.Batch, running bool) (*structpb.Struct, error) {
	chunks := make([]any, len(batch))
	for i, c := range batch {
		chunks[i] = map[string]any{
			fieldChannel:     c.Channel,
			fieldNumber:      c.Number,
			fieldReadID:      string(c.ID),
			fieldRaw:         c.RawData,
			fieldStartSample: c.StartSample,
			fieldChunkStart:  c.ChunkStart,
		}
	}
	return structpb.NewStruct(map[string]any{
		fieldRunning: running,
		fieldChunks:  chunks,
	})
}

func decodeChunks(s *structpb.Struct) (read.Batch, bool, error) {
	fields := s.GetFields()
	running := fields[fieldRunning].GetBoolValue()

	values := fields[fieldChunks].GetListValue().GetValues()
	batch := make(read.Batch, 0, len(values))
	for i, v := range values {
		f := v.GetStructValue().GetFields()
		if f == nil {
			return nil, running, fmt.Errorf("%w: chunk %d is not a struct", ErrMalformed, i)
		}
		raw, err := base64.StdEncoding.DecodeString(f[fieldRaw].GetStringValue())
		if err != nil {
			return nil, running, fmt.Errorf("%w: chunk %d signal: %v", ErrMalformed, i, err)
		}
		id := f[fieldReadID].GetStringValue()
		if id == "" {
			return nil, running, fmt.Errorf("%w: chunk %d has no read id", ErrMalformed, i)
		}
		batch = append(batch, read.Chunk{
			Channel:     int(f[fieldChannel].GetNumberValue()),
			Number:      uint32(f[fieldNumber].GetNumberValue()),
			ID:          read.ReadID(id),
			RawData:     raw,
			StartSample: uint64(f[fieldStartSample].GetNumberValue()),
			ChunkStart:  uint64(f[fieldChunkStart].GetNumberValue()),
		})
	}
	return batch, running, nil
}

func encodeUnblock(key read.Key, id read.ReadID, d time.Duration) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		fieldChannel:  key.Channel,
		fieldNumber:   key.Number,
		fieldReadID:   string(id),
		fieldDuration: d.Seconds(),
	})
}

func decodeKey(s *structpb.Struct) (read.Key, error) {
	f := s.GetFields()
	key := read.Key{
		Channel: int(f[fieldChannel].GetNumberValue()),
		Number:  uint32(f[fieldNumber].GetNumberValue()),
	}
	if key.Channel < 1 {
		return read.Key{}, fmt.Errorf("%w: channel %d", ErrInvalidRead, key.Channel)
	}
	return key, nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
