package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vehicast/relay/internal/session"
	"github.com/vehicast/relay/internal/service/completion"
	"github.com/vehicast/relay/pkg/protocol"
	"github.com/vehicast/relay/pkg/utils"
)

// Handler serves the non-streaming REST fallback for clients that
// cannot hold a websocket open. It shares the session store with the
// relay dispatcher, so turn serialization spans both transports.
type Handler struct {
	sessions  *session.Store
	completer completion.Completer
}

// New creates the REST chat handler.
func New(sessions *session.Store, completer completion.Completer) *Handler {
	return &Handler{sessions: sessions, completer: completer}
}

// RegisterRoutes mounts the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message   string `json:"message"`
		SessionID string `json:"sessionId"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if payload.Message == "" {
		utils.RespondError(w, http.StatusBadRequest, "No message provided")
		return
	}

	if h.completer == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "completion provider unavailable")
		return
	}

	sessionID, _ := h.sessions.Ensure(payload.SessionID)

	if err := h.sessions.BeginTurn(sessionID); err != nil {
		if errors.Is(err, session.ErrTurnActive) {
			utils.RespondError(w, http.StatusConflict, "a response is already streaming for this session")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer h.sessions.EndTurn(sessionID)

	history, err := h.sessions.History(sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response, err := h.completer.Generate(r.Context(), history, payload.Message)
	if err != nil {
		utils.RespondError(w, http.StatusBadGateway, err.Error())
		return
	}

	if err := h.sessions.AppendTurn(sessionID, protocol.Turn{Role: protocol.RoleUser, Content: payload.Message}); err == nil {
		h.sessions.AppendTurn(sessionID, protocol.Turn{Role: protocol.RoleAssistant, Content: response.Content})
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"response":  response.Content,
		"sessionId": sessionID,
	})
}
