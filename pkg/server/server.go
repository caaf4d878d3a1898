package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/scopebind/pkg/bind"
	"github.com/vango-dev/scopebind/pkg/scope"
	"github.com/vango-dev/scopebind/pkg/snapshot"
	"github.com/vango-dev/scopebind/pkg/telemetry"
)

// Server serves the hub over HTTP and websockets.
type Server struct {
	config     *Config
	hub        *Hub
	router     chi.Router
	upgrader   websocket.Upgrader
	httpServer *http.Server
	metrics    *hubMetrics
	nextConnID atomic.Uint64
	logger     *slog.Logger
}

// New creates a server and starts its hub loop.
func New(config *Config) *Server {
	config = config.withDefaults()
	logger := config.Logger.With("component", "server")

	rootOpts := []scope.Option{
		scope.WithName("hub"),
		scope.WithReporter(scope.SlogReporter(config.Logger)),
	}
	bindOpts := []bind.Option{bind.WithDestroyedSourcePolicy(config.Policy)}

	var hm *hubMetrics
	if config.Registry != nil {
		tm := telemetry.Prometheus(
			telemetry.WithRegistry(config.Registry),
			telemetry.WithNamespace(config.MetricsNamespace),
			telemetry.WithEventLabels(config.MetricsEventLabels),
		)
		rootOpts = append(rootOpts, scope.WithObserver(tm))
		bindOpts = append(bindOpts, bind.WithObserver(tm))
		hm = newHubMetrics(config.Registry, config.MetricsNamespace)
	}
	for _, o := range config.Observers {
		rootOpts = append(rootOpts, scope.WithObserver(o))
	}
	for _, o := range config.BindObservers {
		bindOpts = append(bindOpts, bind.WithObserver(o))
	}

	root := scope.NewRoot(rootOpts...)
	binder := bind.New(root.Reporter(), bindOpts...)
	hub := NewHub(root, binder, config.DispatchQueue, config.Logger)
	hub.metrics = hm

	s := &Server{
		config: config,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     config.CheckOrigin,
		},
		metrics: hm,
		logger:  logger,
	}
	s.router = s.routes()
	return s
}

// routes builds the HTTP router.
func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/ws", s.handleWebSocket)
	r.Get("/healthz", s.handleHealth)
	r.Get("/tree", s.handleTree)
	r.Get("/rooms", s.handleRooms)
	r.Route("/rooms/{room}", func(r chi.Router) {
		r.Post("/emit/{event}", s.handleDispatch(OpEmit))
		r.Post("/broadcast/{event}", s.handleDispatch(OpBroadcast))
		r.Delete("/", s.handleDeleteRoom)
	})
	if s.config.Sink != nil {
		r.Post("/snapshots", s.handleSnapshot)
	}
	if s.config.Registry != nil {
		r.Handle(s.config.MetricsPath, promhttp.HandlerFor(s.config.Registry, promhttp.HandlerOpts{}))
	}
	return r
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run serves on config.Addr until ctx is canceled, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s,
		ReadHeaderTimeout: s.config.ReadTimeout,
		ReadTimeout:       s.config.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", s.config.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.hub.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	}
}

// Shutdown closes every connection, destroys the hub tree and stops the
// HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.hub.Close()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.logger.Info("server shutdown complete")
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	id := strconv.FormatUint(s.nextConnID.Add(1), 10)
	c := &Conn{
		id:           id,
		ws:           ws,
		hub:          s.hub,
		subs:         make(map[string]subscription),
		send:         make(chan []byte, s.config.SendQueue),
		done:         make(chan struct{}),
		writeTimeout: s.config.WriteTimeout,
		pingInterval: s.config.HeartbeatInterval,
		maxMessage:   s.config.MaxMessageSize,
		metrics:      s.metrics,
		logger:       s.config.Logger.With("conn", id),
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.WriteTimeout)
	defer cancel()
	if err := s.hub.Do(ctx, func() { s.hub.addConn(c) }); err != nil {
		s.logger.Warn("connection rejected", "error", err)
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		ws.Close()
		return
	}

	c.logger.Debug("connection opened", "remote", r.RemoteAddr)
	go c.writeLoop()
	go c.readLoop()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	var tree *snapshot.Tree
	if err := s.hub.Do(r.Context(), func() { tree = snapshot.Take(s.hub.root) }); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	var names []string
	if err := s.hub.Do(r.Context(), func() { names = s.hub.roomNames() }); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"rooms": names})
}

func (s *Server) handleDispatch(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := chi.URLParam(r, "room")
		event := chi.URLParam(r, "event")

		body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxMessageSize+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if int64(len(body)) > s.config.MaxMessageSize {
			writeError(w, http.StatusRequestEntityTooLarge, errors.New("payload too large"))
			return
		}
		var payload any
		if len(body) > 0 {
			if !json.Valid(body) {
				writeError(w, http.StatusBadRequest, errors.New("payload is not valid JSON"))
				return
			}
			payload = json.RawMessage(body)
		}

		var (
			e       *scope.Event
			loopErr error
		)
		if err := s.hub.Do(r.Context(), func() { e, loopErr = s.hub.dispatch(op, room, event, payload) }); err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		if loopErr != nil {
			writeError(w, statusFor(loopErr), loopErr)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"room":      room,
			"event":     event,
			"direction": e.Direction.String(),
			"delivered": e.Delivered(),
		})
	}
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	var loopErr error
	if err := s.hub.Do(r.Context(), func() { loopErr = s.hub.deleteRoom(room) }); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if loopErr != nil {
		writeError(w, statusFor(loopErr), loopErr)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	var (
		data   []byte
		encErr error
	)
	err := s.hub.Do(r.Context(), func() {
		data, encErr = snapshot.Take(s.hub.root).Encode(s.config.SnapshotFormat)
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if encErr != nil {
		writeError(w, http.StatusInternalServerError, encErr)
		return
	}

	name := snapshot.Key("hub", time.Now(), s.config.SnapshotFormat)
	if err := s.config.Sink.Put(r.Context(), name, data); err != nil {
		s.logger.Error("snapshot upload failed", "name", name, "error", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	s.logger.Info("snapshot written", "name", name, "bytes", len(data))
	writeJSON(w, http.StatusCreated, map[string]string{"name": name})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRoom):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
