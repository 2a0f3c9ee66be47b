// Package app assembles the conversation stack from configuration. It is
// shared by the HTTP server and the CLI.
package app

import (
	"context"
	"fmt"

	"github.com/Rrens/sales-copilot/internal/agent"
	"github.com/Rrens/sales-copilot/internal/config"
	"github.com/Rrens/sales-copilot/internal/credential"
	"github.com/Rrens/sales-copilot/internal/domain"
	"github.com/Rrens/sales-copilot/internal/repository/memory"
	"github.com/Rrens/sales-copilot/internal/repository/mongo"
	"github.com/Rrens/sales-copilot/internal/repository/postgres"
	"github.com/Rrens/sales-copilot/internal/repository/remote"
	"github.com/Rrens/sales-copilot/internal/repository/sqlstore"
	"github.com/Rrens/sales-copilot/internal/service"
	"github.com/rs/zerolog/log"
)

// Store is the session log behind the conversation service
type Store struct {
	Driver   string
	Sessions domain.SessionRepository
	Messages domain.MessageRepository
	// Ping is nil when the driver has nothing to check
	Ping  func(ctx context.Context) error
	close func() error
}

// Close releases the store's connections
func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStore connects the driver named in cfg.Store.Driver. Postgres also
// applies pending migrations.
func OpenStore(ctx context.Context, cfg *config.Config) (*Store, error) {
	driver := cfg.Store.Driver

	switch driver {
	case "postgres":
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := postgres.RunMigrations(cfg.Database.DSN(), cfg.Database.MigrationsPath); err != nil {
			db.Close()
			return nil, err
		}
		return &Store{
			Driver:   driver,
			Sessions: postgres.NewSessionRepository(db.Pool),
			Messages: postgres.NewMessageRepository(db.Pool),
			Ping:     db.Ping,
			close:    db.Close,
		}, nil

	case "sqlite", "mysql":
		var (
			st  *sqlstore.Store
			err error
		)
		if driver == "sqlite" {
			st, err = sqlstore.OpenSQLite(ctx, cfg.Store.SQLite.Path)
		} else {
			st, err = sqlstore.OpenMySQL(ctx, cfg.Store.MySQL.DSN)
		}
		if err != nil {
			return nil, err
		}
		return &Store{Driver: driver, Sessions: st, Messages: st, Ping: st.Ping, close: st.Close}, nil

	case "mongo":
		st, err := mongo.Connect(ctx, cfg.Store.Mongo)
		if err != nil {
			return nil, err
		}
		return &Store{Driver: driver, Sessions: st, Messages: st, Ping: st.Ping, close: st.Close}, nil

	case "remote":
		st, err := remote.NewStore(cfg.Store.Remote)
		if err != nil {
			return nil, err
		}
		return &Store{Driver: driver, Sessions: st, Messages: st}, nil

	case "memory":
		log.Warn().Msg("using in-memory session store; history is lost on restart")
		st := memory.NewStore()
		return &Store{Driver: driver, Sessions: st, Messages: st}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// NewAgentClient builds the agent router and the client that calls it
func NewAgentClient(cfg config.AgentConfig, creds credential.Provider) (*agent.Router, *agent.Client) {
	router := agent.NewRouter(cfg.Endpoints)
	if len(router.Modes()) == 0 {
		log.Warn().Msg("no agent endpoints configured")
	}

	client := agent.NewClient(router, creds, agent.Options{
		ConnectTimeout:  cfg.ConnectTimeout,
		CallTimeout:     cfg.CallTimeout,
		ChunkTimeout:    cfg.ChunkTimeout,
		RejectedPhrases: cfg.CredentialRejectedPhrases,
	})
	return router, client
}

// Stack is everything a front end needs to run conversations
type Stack struct {
	Store         *Store
	Agents        *agent.Router
	Conversations *service.ConversationService
}

// Build opens the store and wires the agent client. cache may be nil.
func Build(ctx context.Context, cfg *config.Config, cache credential.Cache) (*Stack, error) {
	creds, err := credential.FromConfig(cfg.Credential, cache)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential provider: %w", err)
	}

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}

	agents, client := NewAgentClient(cfg.Agent, creds)

	log.Info().
		Str("store", store.Driver).
		Str("credential", cfg.Credential.Type).
		Int("agents", len(agents.Modes())).
		Msg("conversation stack ready")

	return &Stack{
		Store:         store,
		Agents:        agents,
		Conversations: service.NewConversationService(store.Sessions, store.Messages, client, agents),
	}, nil
}
