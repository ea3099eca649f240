package app

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"scheduleChat/pkg/api"
	myMiddleware "scheduleChat/pkg/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8092,
	WriteBufferSize: 8092,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (s *Server) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) GetCurrentIdentity() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// UID from Access Token contained in Authorization header
		uid, _ := myMiddleware.UID(r.Context())

		identity, err := s.userService.GetIdentity(r.Context(), uid)
		if err != nil {
			writeError(w, err)
			return
		}

		respond(w, http.StatusOK, identity)
	}
}

func (s *Server) GetProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userId := chi.URLParam(r, "userId")

		profile, err := s.userService.GetProfile(r.Context(), userId)
		if err != nil {
			writeError(w, err)
			return
		}

		respond(w, http.StatusOK, profile)
	}
}

func (s *Server) GetMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meetingId := chi.URLParam(r, "meetingId")

		messages, err := s.chatService.GetMessages(r.Context(), meetingId)
		if err != nil {
			writeError(w, err)
			return
		}

		respond(w, http.StatusOK, messages)
		zap.S().Debugw("retrieved meeting messages", "meetingId", meetingId, "count", len(messages))
	}
}

func (s *Server) AddMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, _ := myMiddleware.UID(r.Context())
		meetingId := chi.URLParam(r, "meetingId")

		newMessage, ok := decodeNewMessage(w, r)
		if !ok {
			return
		}

		message, err := s.chatService.AddMessage(r.Context(), meetingId, uid, newMessage)
		if err != nil {
			writeError(w, err)
			return
		}

		respond(w, http.StatusCreated, message)
	}
}

func (s *Server) GetDirectMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, _ := myMiddleware.UID(r.Context())
		peerId := chi.URLParam(r, "peerId")

		messages, err := s.chatService.GetDirectMessages(r.Context(), uid, peerId)
		if err != nil {
			writeError(w, err)
			return
		}

		respond(w, http.StatusOK, messages)
	}
}

func (s *Server) AddDirectMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, _ := myMiddleware.UID(r.Context())
		peerId := chi.URLParam(r, "peerId")

		newMessage, ok := decodeNewMessage(w, r)
		if !ok {
			return
		}

		message, err := s.chatService.AddDirectMessage(r.Context(), uid, peerId, newMessage)
		if err != nil {
			writeError(w, err)
			return
		}

		respond(w, http.StatusCreated, message)
	}
}

func (s *Server) ServeWs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			zap.S().Warnw("websocket upgrade failed", "error", err)
			return
		}

		client := api.NewClient(s.hub, conn, make(chan []byte, 256), s.verifier, s.config.AuthTimeout)
		select {
		case client.Hub.Register <- client:
		case <-s.hub.Done():
			_ = conn.Close()
			return
		}

		// Allow collection of memory referenced by the caller by doing all work in
		// new goroutines.
		go client.WritePump()
		go client.ReadPump()
	}
}

func decodeNewMessage(w http.ResponseWriter, r *http.Request) (api.NewMessage, bool) {
	var newMessage api.NewMessage
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&newMessage); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return newMessage, false
	}
	return newMessage, true
}

func respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.S().Errorw("unable to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, api.ErrEmptyContent):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, api.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, api.ErrUnauthorized):
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	default:
		zap.S().Errorw("request failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
