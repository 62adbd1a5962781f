package provider

import (
	"testing"

	"github.com/learnloop/converse/messages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamEventMarshal(t *testing.T) {
	t.Run("start", func(t *testing.T) {
		data, err := Start{Role: messages.RoleAssistant}.MarshalJSON()
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"message_start","role":"assistant"}`, string(data))
	})

	t.Run("delta", func(t *testing.T) {
		data, err := Delta{Content: "hel"}.MarshalJSON()
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"delta","content":"hel"}`, string(data))
	})

	t.Run("end", func(t *testing.T) {
		data, err := End{}.MarshalJSON()
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"message_end"}`, string(data))
	})

	t.Run("error", func(t *testing.T) {
		data, err := Failure{Detail: "boom"}.MarshalJSON()
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"error","detail":"boom"}`, string(data))
	})
}

func TestParseEvent(t *testing.T) {
	t.Run("round trips every variant", func(t *testing.T) {
		for _, ev := range []StreamEvent{
			Start{Role: messages.RoleAssistant},
			Delta{Content: "chunk"},
			End{},
			Failure{Detail: "nope"},
		} {
			data, err := ev.(interface{ MarshalJSON() ([]byte, error) }).MarshalJSON()
			require.NoError(t, err)
			back, err := ParseEvent(data)
			require.NoError(t, err)
			assert.Equal(t, ev, back)
		}
	})

	t.Run("rejects invalid json", func(t *testing.T) {
		_, err := ParseEvent([]byte(`{`))
		assert.Error(t, err)
	})

	t.Run("rejects missing type", func(t *testing.T) {
		_, err := ParseEvent([]byte(`{"content":"x"}`))
		assert.Error(t, err)
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		_, err := ParseEvent([]byte(`{"type":"pong"}`))
		assert.Error(t, err)
	})

	t.Run("rejects delta without content", func(t *testing.T) {
		_, err := ParseEvent([]byte(`{"type":"delta"}`))
		assert.Error(t, err)
	})
}
