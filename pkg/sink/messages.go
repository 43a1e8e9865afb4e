// Package sink writes the SCHEMA, RECORD and STATE message protocol.
//
// Messages are newline-delimited JSON objects tagged by "type". A Sink
// preserves the order in which messages are written; Flush returns once
// everything written so far is durable downstream, which is what makes a
// following STATE message safe to trust.
package sink

import (
	"bytes"
	"time"

	"github.com/ajitpratap0/redtap/pkg/json"
	"github.com/ajitpratap0/redtap/pkg/state"
)

// MessageType tags a protocol message.
type MessageType string

const (
	TypeSchema MessageType = "SCHEMA"
	TypeRecord MessageType = "RECORD"
	TypeState  MessageType = "STATE"
)

// Message is any protocol message.
type Message interface {
	MessageType() MessageType
	// StreamName is empty for STATE
	StreamName() string
}

// SchemaMessage announces the schema of a stream. It precedes the stream's
// records.
type SchemaMessage struct {
	Type               MessageType     `json:"type"`
	Stream             string          `json:"stream"`
	Schema             json.RawMessage `json:"schema"`
	KeyProperties      []string        `json:"key_properties"`
	BookmarkProperties []string        `json:"bookmark_properties,omitempty"`
}

// NewSchema builds a SCHEMA message. schema is anything that marshals to a
// JSON Schema document.
func NewSchema(stream string, schema interface{}, keys []string, replicationKey string) (*SchemaMessage, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []string{}
	}
	m := &SchemaMessage{Type: TypeSchema, Stream: stream, Schema: raw, KeyProperties: keys}
	if replicationKey != "" {
		m.BookmarkProperties = []string{replicationKey}
	}
	return m, nil
}

func (m *SchemaMessage) MessageType() MessageType { return TypeSchema }
func (m *SchemaMessage) StreamName() string       { return m.Stream }

// Record is a typed row whose fields encode in column order.
type Record struct {
	Columns []string
	Values  []interface{}
}

// MarshalJSON implements json.Marshaler.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.Values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// RecordMessage carries one row of a stream.
type RecordMessage struct {
	Type          MessageType `json:"type"`
	Stream        string      `json:"stream"`
	Record        Record      `json:"record"`
	TimeExtracted time.Time   `json:"time_extracted"`
}

// NewRecord builds a RECORD message stamped with extracted.
func NewRecord(stream string, record Record, extracted time.Time) *RecordMessage {
	return &RecordMessage{Type: TypeRecord, Stream: stream, Record: record, TimeExtracted: extracted.UTC()}
}

func (m *RecordMessage) MessageType() MessageType { return TypeRecord }
func (m *RecordMessage) StreamName() string       { return m.Stream }

// StateMessage carries a full bookmark snapshot.
type StateMessage struct {
	Type  MessageType  `json:"type"`
	Value *state.State `json:"value"`
}

// NewState builds a STATE message.
func NewState(st *state.State) *StateMessage {
	return &StateMessage{Type: TypeState, Value: st}
}

func (m *StateMessage) MessageType() MessageType { return TypeState }
func (m *StateMessage) StreamName() string       { return "" }
