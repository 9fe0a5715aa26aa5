package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Codec converts events to and from transport payloads
type Codec interface {
	Name() string
	ContentType() string
	Encode(e *Event) ([]byte, error)
	Decode(data []byte) (*Event, error)
}

// NewCodec returns the codec registered under name
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown event codec: %s", name)
	}
}

// JSONCodec encodes an event as an object mapping each key to its array of
// values, keys in event order.
type JSONCodec struct{}

func (JSONCodec) Name() string        { return "json" }
func (JSONCodec) ContentType() string { return "application/json" }

func (JSONCodec) Encode(e *Event) ([]byte, error) {
	return e.MarshalJSON()
}

func (JSONCodec) Decode(data []byte) (*Event, error) {
	e := &Event{}
	if err := e.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return e, nil
}

// MarshalJSON implements json.Marshaler preserving key order
func (e *Event) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range e.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vals, err := json.Marshal(e.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(vals)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler. Values may be a string or an
// array of strings.
func (e *Event) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("decode event: expected object")
	}

	*e = Event{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		key := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("decode event key %q: %w", key, err)
		}
		values, err := decodeValues(raw)
		if err != nil {
			return fmt.Errorf("decode event key %q: %w", key, err)
		}
		e.Add(key, values...)
	}

	if _, err := dec.Token(); err != nil && err != io.EOF {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

func decodeValues(raw json.RawMessage) ([]string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
	var values []string
	if err := json.Unmarshal(trimmed, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// CBORCodec encodes an event as an array of [key, [values...]] pairs
type CBORCodec struct{}

type cborAttribute struct {
	_      struct{} `cbor:",toarray"`
	Key    string
	Values []string
}

func (CBORCodec) Name() string        { return "cbor" }
func (CBORCodec) ContentType() string { return "application/cbor" }

func (CBORCodec) Encode(e *Event) ([]byte, error) {
	attrs := make([]cborAttribute, 0, e.Len())
	for _, k := range e.Keys() {
		attrs = append(attrs, cborAttribute{Key: k, Values: e.values[k]})
	}
	data, err := cbor.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}

func (CBORCodec) Decode(data []byte) (*Event, error) {
	var attrs []cborAttribute
	if err := cbor.Unmarshal(data, &attrs); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	e := &Event{}
	for _, a := range attrs {
		e.Add(a.Key, a.Values...)
	}
	return e, nil
}

// CodecFor picks the codec matching a content type, falling back to def
func CodecFor(contentType string, def Codec) Codec {
	switch contentType {
	case "application/json":
		return JSONCodec{}
	case "application/cbor":
		return CBORCodec{}
	default:
		return def
	}
}
