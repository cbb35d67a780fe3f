package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"nudge/internal/constants"
	"nudge/internal/security"
)

// StatusServer exposes health, counters and the event feed over HTTP.
// Cleartext HTTP/2 is accepted alongside HTTP/1.1.
type StatusServer struct {
	srv *http.Server
	s   *Server
}

func (s *Server) NewStatusServer(addr string) *StatusServer {
	return &StatusServer{
		s: s,
		srv: &http.Server{
			Addr:              addr,
			Handler:           s.StatusHandler(),
			IdleTimeout:       120 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
	}
}

func (s *Server) StatusHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(constants.EndpointHealth, s.handleHealth)
	mux.HandleFunc(constants.EndpointStats, s.handleStats)
	s.Dashboard.Routes(mux)

	var handler http.Handler = mux
	handler = LoggingMiddleware(s.log)(handler)
	handler = RecoveryMiddleware(s.log)(handler)
	handler = security.SecurityHeaders(handler)
	return h2c.NewHandler(handler, &http2.Server{})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (st *StatusServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", st.srv.Addr)
	if err != nil {
		return err
	}
	return st.Serve(ctx, ln)
}

func (st *StatusServer) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		st.s.log.Info().Str("addr", ln.Addr().String()).Msg("status server listening")
		errCh <- st.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown.
	st.s.Dashboard.Close()
	if err := st.srv.Shutdown(shutdownCtx); err != nil {
		st.s.log.Warn().Err(err).Msg("status server forced to shutdown")
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": constants.Version,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Stats())
}
