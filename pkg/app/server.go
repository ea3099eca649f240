package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"scheduleChat/config"
	"scheduleChat/pkg/api"
)

type Server struct {
	router      *chi.Mux
	hub         *api.Hub
	userService api.UserService
	chatService api.ChatService
	verifier    api.TokenVerifier
	config      *config.Config
}

func NewServer(router *chi.Mux, hub *api.Hub, userService api.UserService, chatService api.ChatService, verifier api.TokenVerifier, conf *config.Config) *Server {
	return &Server{
		router:      router,
		hub:         hub,
		userService: userService,
		chatService: chatService,
		verifier:    verifier,
		config:      conf,
	}
}

// Run serves HTTP and the realtime hub until a termination signal arrives.
func (s *Server) Run() error {
	// Listen for syscall signals for process to interrupt/quit
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	// run function that initializes the routes
	r := s.Routes()

	server := &http.Server{Addr: s.config.ServerUrl, Handler: r}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		zap.S().Infow("scheduleChat server is up and running", "addr", s.config.ServerUrl, "messageStore", s.config.MessageStore)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()

		// Shutdown signal with grace period of 30 seconds
		shutdownCtx, cancelFunc := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelFunc()

		// Trigger graceful shutdown
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		zap.S().Info("server stopped")
		return nil
	})

	return g.Wait()
}
