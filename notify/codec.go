package notify

import (
	"encoding/json"
	"errors"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec errors
var (
	ErrEncodeFailure = errors.New("failed to encode event")
	ErrDecodeFailure = errors.New("failed to decode event")
)

// Codec serializes events for the wire. Implementations must be safe for
// concurrent use.
type Codec interface {
	Encode(e Event) ([]byte, error)
	Decode(data []byte) (Event, error)

	// ContentType returns the MIME type, sent as a message header.
	ContentType() string

	// Name returns a short identifier such as "json" or "msgpack".
	Name() string
}

// DefaultCodec returns the JSON codec.
func DefaultCodec() Codec {
	return JSON{}
}

// CodecByName returns the codec registered under name, or nil.
func CodecByName(name string) Codec {
	switch name {
	case "", "json":
		return JSON{}
	case "msgpack":
		return MsgPack{}
	}
	return nil
}

// JSON encodes events as JSON objects.
type JSON struct{}

func (JSON) Encode(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Join(ErrEncodeFailure, err)
	}
	return data, nil
}

func (JSON) Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, errors.Join(ErrDecodeFailure, err)
	}
	return e, nil
}

func (JSON) ContentType() string { return "application/json" }
func (JSON) Name() string        { return "json" }

// MsgPack encodes events with MessagePack, a compact binary format for
// high-volume consumers.
type MsgPack struct{}

func (MsgPack) Encode(e Event) ([]byte, error) {
	data, err := msgpack.Marshal(e)
	if err != nil {
		return nil, errors.Join(ErrEncodeFailure, err)
	}
	return data, nil
}

func (MsgPack) Decode(data []byte) (Event, error) {
	var e Event
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return Event{}, errors.Join(ErrDecodeFailure, err)
	}
	return e, nil
}

func (MsgPack) ContentType() string { return "application/msgpack" }
func (MsgPack) Name() string        { return "msgpack" }

// Compile-time checks
var (
	_ Codec = JSON{}
	_ Codec = MsgPack{}
)
