package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"codeberg.org/algopatterns/cowrite/cowrite/rooms"
	"codeberg.org/algopatterns/cowrite/internal/auth"
	"codeberg.org/algopatterns/cowrite/internal/buffer"
	"codeberg.org/algopatterns/cowrite/internal/chat"
	"codeberg.org/algopatterns/cowrite/internal/collab"
	"codeberg.org/algopatterns/cowrite/internal/config"
	"codeberg.org/algopatterns/cowrite/internal/conflict"
	"codeberg.org/algopatterns/cowrite/internal/document"
	"codeberg.org/algopatterns/cowrite/internal/events"
	"codeberg.org/algopatterns/cowrite/internal/logger"
	"codeberg.org/algopatterns/cowrite/internal/presence"
	"codeberg.org/algopatterns/cowrite/internal/sessions"
	ws "codeberg.org/algopatterns/cowrite/internal/websocket"
)

// access tokens handed out by the REST API
const tokenTTL = 24 * time.Hour

// creates and configures a new server instance with all dependencies
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	srv := &Server{
		config: cfg,
		tokens: auth.NewTokenIssuer(cfg.JWTSecret, tokenTTL),
	}

	if cfg.Persistent() {
		db, err := openDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}

		if err := rooms.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}

		srv.db = db
		srv.roomRepo = rooms.NewRepository(db)
	} else {
		logger.Warn("DATABASE_URL not set, rooms are kept in memory")
		srv.roomRepo = rooms.NewMemoryRepository()
	}

	// live rooms checkpoint straight into the repository unless Redis buffers them
	var checkpointer collab.Checkpointer = rooms.NewCheckpointer(srv.roomRepo)

	if cfg.RedisURL != "" {
		roomBuffer, err := buffer.NewRoomBuffer(cfg.RedisURL)
		if err != nil {
			srv.closeStores()
			return nil, fmt.Errorf("failed to initialize redis buffer: %w", err)
		}

		srv.buffer = roomBuffer
		srv.flusher = buffer.NewFlusher(roomBuffer, srv.roomRepo, cfg.Session.FlushInterval)
		checkpointer = buffer.NewBufferedRepository(srv.roomRepo, roomBuffer)
	}

	srv.authz = auth.NewRoleAuthorizer(srv.roomRepo, cfg.Session.RoleCacheTTL)
	srv.bus = events.NewBus()

	defaults := sessions.DefaultSettings()
	defaults.MaxParticipants = cfg.Session.MaxParticipants

	srv.registry = sessions.NewRegistry(srv.authz, srv.bus, defaults)
	srv.presence = presence.NewTracker(srv.registry, srv.bus, cfg.Session.PresenceTimeout)

	srv.service = collab.NewService(collab.Deps{
		Registry:     srv.registry,
		Documents:    document.NewStore(conflict.NewResolver(), cfg.Session.HistoryLimit),
		Presence:     srv.presence,
		Chat:         chat.NewChannel(srv.bus, cfg.Session.ChatRetention),
		Bus:          srv.bus,
		Authorizer:   srv.authz,
		Checkpointer: checkpointer,
		Logger:       logger.With("component", "collab"),
	}, collab.Options{
		CheckpointInterval: cfg.Session.CheckpointInterval,
	})

	srv.hub = ws.NewHub(srv.service, srv.bus)
	ws.RegisterHandlers(srv.hub, srv.service)

	// flush buffered checkpoints once a user's last connection to a room is gone
	if srv.flusher != nil {
		flusher := srv.flusher
		srv.hub.OnClientDisconnect(func(client *ws.Client) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := flusher.FlushRoom(ctx, client.SessionID); err != nil {
				logger.ErrorErr(err, "failed to flush buffer on disconnect",
					"client_id", client.ID,
					"room_id", client.SessionID,
				)
			}
		})
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	if err := RegisterRoutes(router, srv); err != nil {
		srv.closeStores()
		return nil, err
	}
	srv.router = router

	return srv, nil
}

func openDatabase(ctx context.Context, url string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	db, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// starts background loops; they stop when ctx is canceled
func (s *Server) Start(ctx context.Context) {
	go s.hub.Run()
	go s.presence.Run(ctx)
	go s.service.Run(ctx)

	if s.flusher != nil {
		s.flusher.Start()
	}
}

// closes clients, saves every live document and releases stores
func (s *Server) Shutdown(ctx context.Context) {
	// notify websocket clients and close connections first
	s.hub.Shutdown()
	s.hub.Wait()

	if err := s.service.Shutdown(ctx); err != nil {
		logger.ErrorErr(err, "failed to save documents on shutdown")
	}

	// flushes remaining buffered data before stopping
	if s.flusher != nil {
		s.flusher.Stop()
	}

	s.bus.Close()
	s.closeStores()
}

func (s *Server) closeStores() {
	if s.buffer != nil {
		s.buffer.Close() //nolint:errcheck,gosec // best-effort cleanup on shutdown
	}

	if s.db != nil {
		s.db.Close()
	}
}
