package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-msgpack/codec"
	storeerrors "github.com/opennetworkinglab/onos-sub118/internal/errors"
	"github.com/opennetworkinglab/onos-sub118/internal/model"
)

// Codec serializes message bodies.
type Codec interface {
	Name() string
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// MsgpackCodec is the default codec; it is the encoding memberlist uses
// for its own messages.
type MsgpackCodec struct {
	handle codec.MsgpackHandle
}

// NewMsgpackCodec creates a msgpack codec.
func NewMsgpackCodec() *MsgpackCodec {
	return &MsgpackCodec{}
}

// Name implements Codec.
func (c *MsgpackCodec) Name() string { return "msgpack" }

// Marshal implements Codec.
func (c *MsgpackCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := codec.NewEncoder(&buf, &c.handle).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal implements Codec.
func (c *MsgpackCodec) Unmarshal(data []byte, v interface{}) error {
	return codec.NewDecoderBytes(data, &c.handle).Decode(v)
}

// JSONCodec is a readable codec for debugging mixed clusters.
type JSONCodec struct{}

// Name implements Codec.
func (JSONCodec) Name() string { return "json" }

// Marshal implements Codec.
func (JSONCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

// Unmarshal implements Codec.
func (JSONCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

// CodecByName resolves a configured codec.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "msgpack":
		return NewMsgpackCodec(), nil
	case "json":
		return JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// Encode frames m as one kind byte followed by the codec body.
func Encode(c Codec, m Message) ([]byte, error) {
	body, err := c.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", m.Kind(), err)
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, byte(m.Kind()))
	return append(out, body...), nil
}

// Decode parses a frame produced by Encode. Any failure is reported as a
// malformed message.
func Decode(c Codec, data []byte) (Message, error) {
	if len(data) < 2 {
		return nil, storeerrors.MalformedMessage("frame too short", nil).WithDetail("size", len(data))
	}

	var m Message
	switch Kind(data[0]) {
	case KindEntityChanged:
		m = &EntityChanged{}
	case KindEntityRemoved:
		m = &EntityRemoved{}
	case KindDigest:
		m = &AntiEntropyDigest{}
	default:
		return nil, storeerrors.MalformedMessage("unknown message kind", nil).WithDetail("kind", data[0])
	}

	if err := c.Unmarshal(data[1:], m); err != nil {
		return nil, storeerrors.MalformedMessage("undecodable "+m.Kind().String(), err)
	}
	if err := validate(m); err != nil {
		return nil, err
	}
	return m, nil
}

func validate(m Message) error {
	if m.Sender() == "" {
		return storeerrors.MalformedMessage("missing sender", nil)
	}
	switch msg := m.(type) {
	case *EntityChanged:
		if msg.Key == "" || msg.Provider == "" {
			return storeerrors.MalformedMessage("entity_changed without key or provider", nil)
		}
		if msg.Timestamp.IsZero() {
			return storeerrors.MalformedMessage("entity_changed without timestamp", nil)
		}
		if msg.Value == nil {
			msg.Value = &model.Description{}
		}
	case *EntityRemoved:
		if msg.Key == "" || msg.Timestamp.IsZero() {
			return storeerrors.MalformedMessage("entity_removed without key or timestamp", nil)
		}
	}
	return nil
}
