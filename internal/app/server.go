// internal/app/server.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"timeclock-service/internal/config"
	"timeclock-service/internal/db"
	"timeclock-service/internal/domain/auth"
	authHandler "timeclock-service/internal/handlers/auth"
	clockHandler "timeclock-service/internal/handlers/clock"
	wsHandler "timeclock-service/internal/handlers/websocket"
	"timeclock-service/internal/middleware"
	"timeclock-service/internal/pkg/jwt"
	"timeclock-service/internal/pkg/session"
	"timeclock-service/internal/repository/memory"
	"timeclock-service/internal/repository/postgres"
	"timeclock-service/internal/service/actiontoken"
	authUsecase "timeclock-service/internal/service/auth"
	"timeclock-service/internal/service/maintenance"
	"timeclock-service/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	cfg        config.AppConfig
	engine     *gin.Engine
	httpServer *http.Server
	logger     *zap.Logger

	cancel  context.CancelFunc
	closers []func()
}

func NewServer() *Server {
	return &Server{cfg: config.Load()}
}

// stores groups the storage collaborators of the token core.
type stores struct {
	sessions    auth.SessionRecordStore
	revocations auth.RevocationStore
	principals  auth.PrincipalDirectory
	usedTokens  interface {
		actiontoken.UsedTokenSet
		maintenance.UsedTokenSweeper
	}
}

// Start wires every component and serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	// ----- Logger -----
	logger, err := newLogger(s.cfg)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	s.logger = logger
	s.closers = append(s.closers, func() { _ = logger.Sync() })

	for _, w := range s.cfg.Warnings {
		logger.Warn("config: " + w)
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	// ----- JWT Manager -----
	jwtManager, err := s.buildJWTManager()
	if err != nil {
		return err
	}

	// ----- Storage -----
	st, err := s.buildStores(ctx)
	if err != nil {
		return err
	}

	// ----- WebSocket Hub -----
	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	// ----- Services -----
	authService := authUsecase.NewAuthService(jwtManager, st.sessions, st.revocations, st.principals, hub, logger)
	actionTokens := actiontoken.NewService(st.principals, st.usedTokens, logger)

	sweeper := maintenance.NewSweeper(st.revocations, st.sessions, st.usedTokens, s.cfg.SweepInterval, logger)
	go sweeper.Run(ctx)

	// ----- Handlers -----
	handlers := &Handlers{
		AuthHandler:    authHandler.NewAuthHandler(authService, logger),
		ClockHandler:   clockHandler.NewClockHandler(actionTokens, hub, logger),
		WSHandler:      wsHandler.NewWebSocketHandler(hub, s.cfg.AllowedOrigins, logger),
		AuthMiddleware: middleware.NewAuthMiddleware(authService, logger),
		DevRoutes:      s.cfg.IsDevelopment(),
	}

	// ----- Router -----
	if !s.cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.engine = gin.New()
	s.engine.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
		middleware.CORSMiddleware(),
	)
	SetupRouter(s.engine, handlers)

	// ----- Start HTTP -----
	s.httpServer = &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("server running",
		zap.String("addr", s.cfg.HTTPAddr),
		zap.String("store_backend", s.cfg.StoreBackend),
		zap.String("action_token_store", s.cfg.ActionTokenStore),
		zap.Bool("revocation_cache", s.cfg.RevocationCache),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains HTTP, stops the background loops and closes the stores.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if s.cancel != nil {
		s.cancel()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	return err
}

func newLogger(cfg config.AppConfig) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func (s *Server) buildJWTManager() (*jwt.Manager, error) {
	if s.cfg.JWT.SigningKey == "" && s.cfg.JWT.SigningKeyPath == "" {
		// Validate only lets this through in development.
		key, err := jwt.GenerateSigningKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		s.logger.Warn("no JWT signing key configured, using an ephemeral key")
		return jwt.NewManager(key, s.cfg.JWT), nil
	}

	m, err := jwt.LoadAndBuild(s.cfg.JWT)
	if err != nil {
		return nil, fmt.Errorf("failed to load JWT manager: %w", err)
	}
	return m, nil
}

func (s *Server) buildStores(ctx context.Context) (*stores, error) {
	st := &stores{}

	switch s.cfg.StoreBackend {
	case config.StoreBackendPostgres:
		pool, err := db.ConnectDB(db.PostgresConfig{URL: s.cfg.DatabaseURL, MaxConns: s.cfg.DBMaxConns})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		s.closers = append(s.closers, pool.Close)

		if err := postgres.NewDB(pool).Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate: %w", err)
		}

		st.sessions = postgres.NewSessionRecordRepository(pool)
		st.revocations = postgres.NewRevocationRepository(pool)
		st.principals = postgres.NewPrincipalRepository(pool)

	case config.StoreBackendMemory:
		directory := memory.NewPrincipalDirectory()
		if s.cfg.IsDevelopment() {
			if err := seedDevPrincipals(directory, s.logger); err != nil {
				return nil, err
			}
		}
		st.sessions = memory.NewSessionRecordStore()
		st.revocations = memory.NewRevocationStore()
		st.principals = directory
		s.logger.Warn("using in-memory stores; sessions do not survive a restart")
	}

	var redisClient redis.UniversalClient
	if s.cfg.NeedsRedis() {
		client, err := db.NewRedisClient(db.RedisConfig{
			ClusterMode: s.cfg.RedisCluster,
			Addresses:   s.cfg.RedisAddrs,
			Password:    s.cfg.RedisPass,
			PoolSize:    10,
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = client.Close() })
		redisClient = client
		s.logger.Info("redis connected", zap.Strings("addrs", s.cfg.RedisAddrs))
	}

	if s.cfg.RevocationCache {
		st.revocations = session.NewRevocationCache(redisClient, st.revocations, s.logger)
	}

	if s.cfg.ActionTokenStore == config.ActionTokenStoreRedis {
		st.usedTokens = session.NewUsedTokenSet(redisClient)
	} else {
		st.usedTokens = actiontoken.NewMemoryUsedSet()
	}

	return st, nil
}

// seedDevPrincipals registers one principal per role for the dev profile.
func seedDevPrincipals(directory *memory.PrincipalDirectory, logger *zap.Logger) error {
	seeds := []struct {
		id   int64
		role auth.Role
	}{
		{1, auth.RoleAdmin},
		{2, auth.RoleManager},
		{7, auth.RoleEmployee},
	}
	for _, p := range seeds {
		if _, err := directory.Add(p.id, p.role); err != nil {
			return err
		}
		logger.Info("dev principal seeded", zap.Int64("principal_id", p.id), zap.String("role", string(p.role)))
	}
	return nil
}
