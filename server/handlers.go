package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/learnloop/converse/chat"
	"github.com/learnloop/converse/pkg/slogx"
	"github.com/learnloop/converse/provider"
	"github.com/tidwall/gjson"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())

	// An empty body means an untitled conversation.
	var body struct {
		Title string `json:"title"`
	}
	if err := decodeBody(w, r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, err := s.store.CreateConversation(r.Context(), userID, body.Title)
	if err != nil {
		slog.Error("create conversation", slogx.Error(err), slogx.User(userID))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())

	convs, err := s.store.Conversations(r.Context(), userID)
	if err != nil {
		slog.Error("list conversations", slogx.Error(err), slogx.User(userID))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	conversationID := r.PathValue("id")

	if !s.service.Guard().Owns(r.Context(), userID, conversationID) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	conv, err := s.store.Conversation(r.Context(), conversationID)
	if err != nil {
		slog.Error("load conversation", slogx.Error(err), slogx.Conversation(conversationID))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	conversationID := r.PathValue("id")

	if !s.service.Guard().Owns(r.Context(), userID, conversationID) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	msgs, err := s.store.Messages(r.Context(), conversationID)
	if err != nil {
		slog.Error("load messages", slogx.Error(err), slogx.Conversation(conversationID))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// generateBody is the request payload for synchronous generation.
// Sampling fields (model, temperature, top_p, max_tokens) sit at the top
// level of the body; a nested params object is accepted as an alias and
// wins when both are present. Either way they stay raw because the
// service tolerates any malformed field in them.
type generateBody struct {
	Content  string          `json:"content"`
	Params   json.RawMessage `json:"params"`
	Provider string          `json:"provider"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	conversationID := r.PathValue("id")

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var body generateBody
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// The query parameter wins over the body field.
	hint := r.URL.Query().Get("provider")
	if hint == "" {
		hint = body.Provider
	}

	// The whole body doubles as the sampling-parameter object; unrelated
	// fields like content and provider are simply ignored by the parser.
	rawParams := raw
	if gjson.ParseBytes(body.Params).IsObject() {
		rawParams = body.Params
	}

	res, err := s.service.Generate(r.Context(), userID, conversationID, chat.GenerateRequest{
		Content:      body.Content,
		RawParams:    rawParams,
		ProviderHint: hint,
	})
	if err != nil {
		s.writeGenerateError(w, conversationID, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) writeGenerateError(w http.ResponseWriter, conversationID string, err error) {
	var verr *chat.ValidationError
	var perr *provider.Error
	var serr *chat.PersistenceError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Detail)
	case errors.Is(err, chat.ErrUnauthorized):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, provider.ErrUnavailable):
		writeError(w, http.StatusBadGateway, "remote provider unavailable")
	case errors.As(err, &perr):
		slog.Error("provider failure", slogx.Error(err), slogx.Conversation(conversationID))
		writeError(w, http.StatusBadGateway, "provider request failed")
	case errors.As(err, &serr):
		slog.Error("persistence failure", slogx.Error(err), slogx.Conversation(conversationID))
		writeError(w, http.StatusInternalServerError, "internal server error")
	default:
		slog.Error("generation failed", slogx.Error(err), slogx.Conversation(conversationID))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}
