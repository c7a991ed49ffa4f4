package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"doc-sync/pkg/access"
	"doc-sync/pkg/config"
	"doc-sync/pkg/db"
	"doc-sync/pkg/handlers"
	"doc-sync/pkg/history"
	"doc-sync/pkg/oplog"
	"doc-sync/pkg/room"
	"doc-sync/pkg/session"
)

// Server represents the application server
type Server struct {
	router      *mux.Router
	httpServer  *http.Server
	roomManager *room.RoomManager
	handlers    *handlers.Handlers
	docStore    db.Store
	redis       *redis.Client
	relay       *room.RedisRelay
	config      *config.Config
	logger      *zap.SugaredLogger
}

// NewServer creates a new server instance
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*Server, error) {
	docStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		docStore:    docStore,
		roomManager: room.NewRoomManager(logger),
		config:      cfg,
		logger:      logger,
	}

	if cfg.RelayEnabled() {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		s.relay = room.NewRedisRelay(s.redis, cfg.RedisChannelPrefix, s.roomManager, logger)
	}

	verifier, err := access.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	resolver := access.NewResolver(verifier, docStore, logger)

	materializer := oplog.NewMaterializer(docStore, cfg.MaterializerTTL, logger)
	if s.relay != nil {
		// Versions committed elsewhere invalidate the local view.
		s.relay.OnRemote(func(documentID string, _ int) {
			materializer.Evict(documentID)
		})
		if err := s.relay.Start(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		s.roomManager.SetRelay(s.relay)
	}
	log := oplog.New(docStore, materializer, oplog.Config{
		LockMaxRetry: cfg.LockMaxRetry,
		RefreshEvery: cfg.SnapshotRefreshInterval,
	}, logger)

	gateway := session.NewGateway(resolver, log, history.NewController(docStore, logger), s.roomManager, docStore,
		session.Config{SendBuffer: cfg.ClientSendBuffer}, logger)

	s.handlers = handlers.NewHandlers(gateway, resolver, docStore, materializer, s.roomManager, handlers.Options{
		MaxMessageBytes: cfg.MaxMessageBytes,
		CheckOrigin:     cfg.OriginAllowed,
	}, logger)

	s.router = mux.NewRouter()
	s.handlers.Register(s.router)

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(100000))
	health.AddReadinessCheck("store", s.pingStore)
	if s.redis != nil {
		health.AddReadinessCheck("redis", s.pingRedis)
	}
	s.router.HandleFunc("/healthz", health.LiveEndpoint)
	s.router.HandleFunc("/readyz", health.ReadyEndpoint)
	s.router.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              cfg.GetServerAddr(),
		Handler:           corsMiddleware(cfg, s.router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (db.Store, error) {
	switch cfg.StorageBackend {
	case config.BackendMemory:
		logger.Warnw("Using in-memory storage, documents will not survive a restart")
		return db.NewMemoryDocumentStore(), nil
	case config.BackendPostgres:
		store, err := db.NewPostgresDocumentStore(ctx, cfg.GetDatabaseConnectionString(), cfg.LockTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		logger.Infow("Connected to PostgreSQL", "host", cfg.PostgresHost, "database", cfg.PostgresDatabase)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func (s *Server) pingStore() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.docStore.Ping(ctx)
}

func (s *Server) pingRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.redis.Ping(ctx).Err()
}

// Start serves HTTP until Shutdown is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Infow("Starting document sync server", "addr", s.httpServer.Addr, "storage", s.config.StorageBackend, "relay", s.relay != nil, "cpus", runtime.NumCPU())
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler exposes the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Shutdown stops accepting connections, waits for in-flight requests and
// releases the relay and the store.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if closeErr := s.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Close releases the relay, Redis and store connections
func (s *Server) Close() error {
	var errs []error
	if s.relay != nil {
		errs = append(errs, s.relay.Close())
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	errs = append(errs, s.docStore.Close())
	return errors.Join(errs...)
}

// corsMiddleware handles CORS headers and responds to preflight requests
// at the outer layer so they don't get rejected by method-restricted routes.
func corsMiddleware(cfg *config.Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case origin != "" && cfg.OriginAllowed(origin):
			// Reflect the origin for stricter CORS (avoids some browser issues with credentials)
			w.Header().Set("Access-Control-Allow-Origin", origin)
		case origin == "":
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")

		if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
			w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
		} else {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		w.Header().Set("Access-Control-Max-Age", "600")
		w.Header().Add("Vary", "Origin")
		w.Header().Add("Vary", "Access-Control-Request-Headers")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
