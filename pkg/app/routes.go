package app

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	myMiddleware "scheduleChat/pkg/middleware"
)

func (s *Server) Routes() *chi.Mux {
	r := s.router
	r.Use(cors.Handler(cors.Options{
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.Health())
	// The realtime handshake authenticates inside the socket.
	r.Get("/realtime/ws", s.ServeWs())

	r.Group(func(r chi.Router) {
		r.Use(myMiddleware.Authenticator(s.verifier))
		r.Get("/auth/me", s.GetCurrentIdentity())
		r.Get("/profiles/{userId}", s.GetProfile())
		r.Get("/meetings/{meetingId}/messages", s.GetMessages())
		r.Post("/meetings/{meetingId}/messages", s.AddMessage())
		r.Get("/direct/{peerId}/messages", s.GetDirectMessages())
		r.Post("/direct/{peerId}/messages", s.AddDirectMessage())
	})

	return r
}
