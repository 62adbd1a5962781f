package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/learnloop/converse/chat"
	"github.com/learnloop/converse/internal/broker"
	"github.com/learnloop/converse/pkg/slogx"
	"github.com/learnloop/converse/provider"
	"github.com/tidwall/gjson"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 50 * time.Second
)

// handleSession upgrades the request and runs one websocket session.
// Ownership is checked before the upgrade so an unauthorized caller sees
// a plain 404, identical to a missing conversation.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	conversationID := r.PathValue("id")

	if !s.service.Guard().Owns(r.Context(), userID, conversationID) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake error.
		slog.Debug("websocket upgrade failed", slogx.Error(err))
		return
	}

	sess := &session{
		conn:           conn,
		service:        s.service,
		topic:          s.broker.Topic(r.Context(), conversationID),
		userID:         userID,
		conversationID: conversationID,
		direct:         make(chan []byte, 8),
	}
	sess.run(r.Context())
}

// session is one websocket membership in a conversation's broadcast
// group. The write loop is the connection's only writer; the read loop
// handles inbound frames serially, so at most one generation runs per
// socket at a time.
type session struct {
	conn    *websocket.Conn
	service *chat.Service
	topic   broker.Topic

	userID         string
	conversationID string

	// direct carries frames addressed to this socket only, bypassing the
	// broadcast group. Used for error events.
	direct chan []byte
}

func (s *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.conn.Close()

	sub, err := s.topic.Subscribe(ctx)
	if err != nil {
		slog.Warn("subscribe failed", slogx.Error(err), slogx.Conversation(s.conversationID))
		return
	}
	defer sub.Unsubscribe()

	go s.writeLoop(ctx, cancel, sub)
	s.readLoop(ctx)
}

func (s *session) readLoop(ctx context.Context) {
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read failed", slogx.Error(err), slogx.Conversation(s.conversationID))
			}
			return
		}
		s.handleFrame(ctx, frame)
	}
}

// handleFrame dispatches one inbound frame. Generate requests run the
// streaming pipeline; every other well-formed frame is echoed to the
// group unchanged, which is how clients share presence and typing
// indicators.
func (s *session) handleFrame(ctx context.Context, frame []byte) {
	if gjson.GetBytes(frame, "type").String() == "generate" {
		s.generate(ctx, frame)
		return
	}
	if err := s.topic.Publish(ctx, frame); err != nil {
		slog.Warn("publish failed", slogx.Error(err), slogx.Conversation(s.conversationID))
	}
}

func (s *session) generate(ctx context.Context, frame []byte) {
	// Sampling fields sit at the top level of the frame; a nested params
	// object is accepted as an alias and wins when both are present.
	rawParams := frame
	if p := gjson.GetBytes(frame, "params"); p.IsObject() {
		rawParams = []byte(p.Raw)
	}
	req := chat.GenerateRequest{
		Content:      gjson.GetBytes(frame, "content").String(),
		RawParams:    rawParams,
		ProviderHint: gjson.GetBytes(frame, "provider").String(),
	}

	events, err := s.service.StreamGenerate(ctx, s.userID, s.conversationID, req)
	if err != nil {
		// The request never started; only the sender hears about it and
		// the session stays usable.
		s.sendDirect(ctx, provider.Failure{Detail: failureDetail(err)})
		return
	}

	for ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := s.topic.Publish(ctx, payload); err != nil {
			slog.Warn("publish failed", slogx.Error(err), slogx.Conversation(s.conversationID))
		}
	}
}

func (s *session) sendDirect(ctx context.Context, ev provider.StreamEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case s.direct <- payload:
	case <-ctx.Done():
	}
}

// writeLoop is the sole writer on the connection. It interleaves group
// frames, direct frames, and keepalive pings.
func (s *session) writeLoop(ctx context.Context, cancel context.CancelFunc, sub broker.Subscription) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer cancel()
	// Closing the connection unblocks the read loop immediately.
	defer s.conn.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-sub.C():
			if !ok {
				return
			}
			if !s.write(websocket.TextMessage, frame) {
				return
			}
		case frame := <-s.direct:
			if !s.write(websocket.TextMessage, frame) {
				return
			}
		case <-ticker.C:
			if !s.write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (s *session) write(messageType int, payload []byte) bool {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(messageType, payload); err != nil {
		slog.Debug("websocket write failed", slogx.Error(err), slogx.Conversation(s.conversationID))
		return false
	}
	return true
}

func failureDetail(err error) string {
	var verr *chat.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Detail
	case errors.Is(err, provider.ErrUnavailable):
		return "remote provider unavailable"
	default:
		return "generation failed"
	}
}
