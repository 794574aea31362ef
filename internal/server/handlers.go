package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/normanking/avatarchat/internal/bus"
	"github.com/normanking/avatarchat/internal/conversation"
	"github.com/normanking/avatarchat/internal/speech"
	"github.com/normanking/avatarchat/internal/transcript"
)

type submitRequest struct {
	Message string `json:"message"`
}

type submitResponse struct {
	Sequence int64 `json:"sequence"`
}

type playedRequest struct {
	Sequence int64 `json:"sequence"`
}

type playedResponse struct {
	Acknowledged bool `json:"acknowledged"`
}

type cameraRequest struct {
	Zoomed *bool `json:"zoomed,omitempty"`
}

type cameraResponse struct {
	CameraZoomed bool `json:"cameraZoomed"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// submitStatus maps store rejections to HTTP status codes.
func submitStatus(err error) int {
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, conversation.ErrExchangeInFlight),
		errors.Is(err, conversation.ErrReplyPlaying),
		errors.Is(err, conversation.ErrNotGreeted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Clients:   s.hub.Count(),
		Phase:     string(s.deps.Conversation.State().Phase),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if s.deps.Completer != nil {
		resp.Playing = s.deps.Completer.Bound()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Conversation.State())
}

func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := s.deps.Conversation.SubmitAsync(s.ctx, req.Message)
	if err != nil {
		writeError(w, submitStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{Sequence: msg.Sequence})
}

func (s *Server) playedHandler(w http.ResponseWriter, r *http.Request) {
	var req playedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Sequence <= 0 {
		writeError(w, http.StatusBadRequest, "sequence is required")
		return
	}
	writeJSON(w, http.StatusOK, playedResponse{Acknowledged: s.complete(req.Sequence)})
}

func (s *Server) complete(seq int64) bool {
	if s.deps.Completer == nil {
		return false
	}
	return s.deps.Completer.Complete(seq)
}

func (s *Server) cameraHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Avatar == nil {
		writeError(w, http.StatusServiceUnavailable, "avatar controller not configured")
		return
	}

	var req cameraRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	if req.Zoomed != nil {
		s.deps.Avatar.SetCameraZoomed(*req.Zoomed)
	} else {
		s.deps.Avatar.ToggleCamera()
	}
	writeJSON(w, http.StatusOK, cameraResponse{CameraZoomed: s.deps.Avatar.GetState().CameraZoomed})
}

func queryLimit(r *http.Request, def int) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 0 {
		return def
	}
	return limit
}

func (s *Server) logsHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Logs == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Logs.History(queryLimit(r, 100)))
}

func (s *Server) transcriptsHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		writeError(w, http.StatusServiceUnavailable, "transcript archive disabled")
		return
	}

	sessions, err := s.deps.Archive.ListSessions(r.Context(), queryLimit(r, 50))
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list transcripts")
		writeError(w, http.StatusInternalServerError, "failed to list transcripts")
		return
	}
	if sessions == nil {
		sessions = []transcript.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) transcriptHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		writeError(w, http.StatusServiceUnavailable, "transcript archive disabled")
		return
	}

	msgs, err := s.deps.Archive.Messages(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, transcript.ErrNotFound), errors.Is(err, transcript.ErrInvalidID):
		writeError(w, http.StatusNotFound, "transcript not found")
		return
	case err != nil:
		s.logger.Error().Err(err).Msg("Failed to load transcript")
		writeError(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		acc:  speech.NewAccumulator(s.deps.Filter),
	}
	c.acc.SetUpdateHandler(func(display string) {
		s.hub.sendTo(c, WSMessage{Type: TypeTranscript, Content: display})
		s.emit(bus.EventTypeTranscriptPartial, map[string]any{"text": display})
	})
	s.hub.add(c)
	go c.writePump()

	s.logger.Info().Str("remote", r.RemoteAddr).Int("clients", s.hub.Count()).Msg("WebSocket client connected")
	s.emit(bus.EventTypeClientConnected, map[string]any{"remote": r.RemoteAddr})

	st := s.deps.Conversation.State()
	s.hub.sendTo(c, WSMessage{Type: TypeState, State: &st})
	if s.deps.Avatar != nil {
		av := s.deps.Avatar.GetState()
		s.hub.sendTo(c, WSMessage{Type: TypeAvatar, Avatar: &av})
	}
	// A reply that started before this client joined is offered again.
	if st.ActiveReply != nil {
		s.hub.sendTo(c, WSMessage{Type: TypePlay, Sequence: st.ActiveReply.Sequence, Message: st.ActiveReply})
	}
	s.greet()

	s.readLoop(c)

	s.hub.remove(c)
	s.logger.Info().Str("remote", r.RemoteAddr).Msg("WebSocket client disconnected")
	s.emit(bus.EventTypeClientDisconnected, map[string]any{"remote": r.RemoteAddr})
}

func (s *Server) readLoop(c *client) {
	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case TypeMessage:
			s.submitFrom(c, msg.Content)

		case TypePlayed:
			s.complete(msg.Sequence)

		case TypeTranscript:
			s.handleTranscript(c, msg)

		case TypeCamera:
			if s.deps.Avatar != nil {
				s.deps.Avatar.ToggleCamera()
			}

		default:
			s.hub.sendTo(c, WSMessage{Type: TypeError, Error: "unknown message type: " + msg.Type})
		}
	}
}

func (s *Server) submitFrom(c *client, text string) {
	if _, err := s.deps.Conversation.SubmitAsync(s.ctx, text); err != nil {
		s.hub.sendTo(c, WSMessage{Type: TypeError, Error: err.Error()})
	}
}

func (s *Server) handleTranscript(c *client, msg WSMessage) {
	if msg.Start {
		c.acc.Start()
		if s.deps.Avatar != nil {
			s.deps.Avatar.StartListening()
		}
		// An interrupted session resumes with what was already heard.
		if display := c.acc.Display(); display != "" {
			s.hub.sendTo(c, WSMessage{Type: TypeTranscript, Content: display})
		}
	}

	if !c.acc.Listening() {
		if len(msg.Results) > 0 || msg.Done {
			s.hub.sendTo(c, WSMessage{Type: TypeError, Error: "no listening session"})
		}
		return
	}

	if len(msg.Results) > 0 {
		c.acc.Add(msg.Results...)
	}

	if msg.Done {
		if s.deps.Avatar != nil {
			s.deps.Avatar.StopListening()
		}
		if text, ok := c.acc.End(); ok {
			s.emit(bus.EventTypeTranscript, map[string]any{"text": text})
			s.submitFrom(c, text)
		}
	}
}
