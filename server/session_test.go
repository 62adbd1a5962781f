package server

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func (f fixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") +
		"/api/chat/conversations/" + f.conv.ID + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	return frame
}

// readUntilEnd collects frames through the terminal event of one
// generation.
func readUntilEnd(t *testing.T, conn *websocket.Conn) []gjson.Result {
	t.Helper()
	var events []gjson.Result
	for {
		frame := readFrame(t, conn)
		ev := gjson.ParseBytes(frame)
		events = append(events, ev)
		switch ev.Get("type").String() {
		case "message_end", "error":
			return events
		}
	}
}

func deltaText(events []gjson.Result) string {
	var full strings.Builder
	for _, ev := range events {
		if ev.Get("type").String() == "delta" {
			full.WriteString(ev.Get("content").String())
		}
	}
	return full.String()
}

func TestSessionGenerate(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, f.token)

	const prompt = "Summarize the water cycle for a revision card."
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "generate", "content": prompt}))

	events := readUntilEnd(t, conn)
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, "message_start", events[0].Get("type").String())
	assert.Equal(t, "assistant", events[0].Get("role").String())
	assert.Equal(t, "message_end", events[len(events)-1].Get("type").String())
	assert.Equal(t, prompt, deltaText(events))

	msgs, err := f.st.Messages(context.Background(), f.conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, prompt, msgs[1].Content)
}

func TestSessionGenerateReadsTopLevelSamplingFields(t *testing.T) {
	capture := &captureProvider{}
	f := newFixtureWith(t, capture)
	conn := f.dial(t, f.token)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "generate", "content": "hi", "temperature": 0.05, "max_tokens": 9,
	}))
	events := readUntilEnd(t, conn)
	require.Equal(t, "message_end", events[len(events)-1].Get("type").String())

	got := capture.last()
	assert.InDelta(t, 0.05, got.Temperature, 1e-9)
	assert.Equal(t, 9, got.MaxTokens)
}

func TestSessionFanOut(t *testing.T) {
	f := newFixture(t)
	listener := f.dial(t, f.token)
	sender := f.dial(t, f.token)

	const prompt = "fan out"
	require.NoError(t, sender.WriteJSON(map[string]any{"type": "generate", "content": prompt}))

	for _, conn := range []*websocket.Conn{sender, listener} {
		events := readUntilEnd(t, conn)
		assert.Equal(t, "message_end", events[len(events)-1].Get("type").String())
		assert.Equal(t, prompt, deltaText(events))
	}
}

func TestSessionEchoesOtherFrames(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, f.token)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "typing", "user": "alice"}))

	frame := readFrame(t, conn)
	assert.Equal(t, "typing", gjson.GetBytes(frame, "type").String())
	assert.Equal(t, "alice", gjson.GetBytes(frame, "user").String())
}

func TestSessionErrorKeepsConnectionOpen(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, f.token)

	// Empty prompt fails before the stream opens; only the sender hears
	// about it.
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "generate", "content": "  "}))
	frame := readFrame(t, conn)
	assert.Equal(t, "error", gjson.GetBytes(frame, "type").String())
	assert.NotEmpty(t, gjson.GetBytes(frame, "detail").String())

	msgs, err := f.st.Messages(context.Background(), f.conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// The session is still a group member.
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	frame = readFrame(t, conn)
	assert.Equal(t, "ping", gjson.GetBytes(frame, "type").String())
}

func TestSessionRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)

	t.Run("unknown token", func(t *testing.T) {
		url := "ws" + strings.TrimPrefix(f.ts.URL, "http") +
			"/api/chat/conversations/" + f.conv.ID + "/ws?token=bogus"
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("someone else's conversation", func(t *testing.T) {
		otherToken, err := f.st.CreateToken(context.Background(), "mallory")
		require.NoError(t, err)

		url := "ws" + strings.TrimPrefix(f.ts.URL, "http") +
			"/api/chat/conversations/" + f.conv.ID + "/ws?token=" + otherToken
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
