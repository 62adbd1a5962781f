package provider

import (
	"fmt"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/learnloop/converse/messages"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	startJSON = []byte(`{"type":"message_start"}`)
	deltaJSON = []byte(`{"type":"delta"}`)
	endJSON   = []byte(`{"type":"message_end"}`)
	errorJSON = []byte(`{"type":"error"}`)
)

// StreamEvent is the wire-level vocabulary for incremental delivery.
// Exactly one Start precedes any Delta, and exactly one terminal event
// (End or Failure) closes a generation; no events follow the terminal
// event.
type StreamEvent interface {
	streamEvent()
}

// Start opens a streamed generation. Providers that know the generation
// time stamp it; a zero Timestamp stays off the wire.
type Start struct {
	Role      messages.Role   `json:"role"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (Start) streamEvent() {}

// Delta carries one incremental fragment of the assistant reply.
type Delta struct {
	Content string `json:"content"`
}

func (Delta) streamEvent() {}

// End terminates a successful generation.
type End struct {
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (End) streamEvent() {}

// Failure terminates a generation that could not complete. It carries a
// caller-safe detail string, never the raw transport error.
type Failure struct {
	Detail string `json:"detail"`
}

func (Failure) streamEvent() {}

// MarshalJSON renders Start as {"type":"message_start","role":...}.
func (s Start) MarshalJSON() ([]byte, error) {
	out, err := sjson.SetBytes(startJSON, "role", string(s.Role))
	if err != nil {
		return nil, err
	}
	return stamp(out, s.Timestamp)
}

// MarshalJSON renders Delta as {"type":"delta","content":...}.
func (d Delta) MarshalJSON() ([]byte, error) {
	return sjson.SetBytes(deltaJSON, "content", d.Content)
}

// MarshalJSON renders End as {"type":"message_end"}.
func (e End) MarshalJSON() ([]byte, error) {
	return stamp(endJSON, e.Timestamp)
}

// MarshalJSON renders Failure as {"type":"error","detail":...}.
func (f Failure) MarshalJSON() ([]byte, error) {
	return sjson.SetBytes(errorJSON, "detail", f.Detail)
}

func stamp(in []byte, ts strfmt.DateTime) ([]byte, error) {
	if time.Time(ts).IsZero() {
		return in, nil
	}
	return sjson.SetBytes(in, "timestamp", ts.String())
}

// ParseEvent decodes a wire frame back into its StreamEvent variant. It
// is the inverse of the MarshalJSON implementations above.
func ParseEvent(data []byte) (StreamEvent, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid json: %s", data)
	}
	typ := gjson.GetBytes(data, "type")
	if !typ.Exists() {
		return nil, fmt.Errorf("missing required field 'type'")
	}
	switch typ.String() {
	case "message_start":
		ev := Start{Role: messages.Role(gjson.GetBytes(data, "role").String())}
		ev.Timestamp = parseStamp(data)
		return ev, nil
	case "delta":
		content := gjson.GetBytes(data, "content")
		if !content.Exists() {
			return nil, fmt.Errorf("missing required field 'content'")
		}
		return Delta{Content: content.String()}, nil
	case "message_end":
		return End{Timestamp: parseStamp(data)}, nil
	case "error":
		return Failure{Detail: gjson.GetBytes(data, "detail").String()}, nil
	default:
		return nil, fmt.Errorf("unknown event type: %s", typ.String())
	}
}

// parseStamp tolerates a missing or malformed timestamp; the field is
// informational.
func parseStamp(data []byte) strfmt.DateTime {
	ts := gjson.GetBytes(data, "timestamp")
	if !ts.Exists() {
		return strfmt.DateTime{}
	}
	parsed, err := strfmt.ParseDateTime(ts.String())
	if err != nil {
		return strfmt.DateTime{}
	}
	return parsed
}
