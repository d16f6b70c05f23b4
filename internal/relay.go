package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgellow/auth-relay/internal/auth"
	"github.com/dgellow/auth-relay/internal/config"
	"github.com/dgellow/auth-relay/internal/cookie"
	"github.com/dgellow/auth-relay/internal/directory"
	"github.com/dgellow/auth-relay/internal/envutil"
	"github.com/dgellow/auth-relay/internal/idp"
	"github.com/dgellow/auth-relay/internal/idtoken"
	"github.com/dgellow/auth-relay/internal/log"
	"github.com/dgellow/auth-relay/internal/server"
	"github.com/dgellow/auth-relay/internal/storage"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout      = 30 * time.Second
	outboundHTTPTimeout  = 10 * time.Second
	minimumSweepInterval = time.Minute
)

// AuthRelay is the assembled relay process
type AuthRelay struct {
	config     *config.Config
	httpServer *server.HTTPServer
	storage    storage.Storage
	cleanup    *storage.CleanupManager
}

// NewAuthRelay builds every collaborator from cfg
func NewAuthRelay(ctx context.Context, cfg *config.Config) (*AuthRelay, error) {
	log.LogInfoWithFields("relay", "Building auth relay", map[string]any{
		"platform": cfg.Platform,
		"stage":    cfg.Stage,
		"storage":  cfg.Storage.Kind,
	})

	store, err := setupStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	handler, err := buildHTTPHandler(ctx, cfg, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	relay := &AuthRelay{
		config:     cfg,
		httpServer: server.NewHTTPServer(handler, cfg.Addr),
		storage:    store,
	}
	if sweeper, ok := store.(storage.Sweeper); ok && cfg.Storage.TTL > 0 {
		relay.cleanup = storage.NewCleanupManager(sweeper, max(cfg.Storage.TTL.Std(), minimumSweepInterval))
	}
	return relay, nil
}

func buildHTTPHandler(ctx context.Context, cfg *config.Config, store storage.Storage) (http.Handler, error) {
	httpClient := &http.Client{Timeout: outboundHTTPTimeout}
	users := directory.NewClient(cfg.IdentityProviderURL, cfg.IdentityProviderTimeout.Std())

	provider, err := idp.NewProvider(cfg, httpClient, users)
	if err != nil {
		return nil, fmt.Errorf("failed to setup provider: %w", err)
	}
	validator, err := idtoken.NewValidator(ctx, cfg.Platform)
	if err != nil {
		return nil, fmt.Errorf("failed to setup token validator: %w", err)
	}

	service := auth.NewService(store, provider, validator, users, cfg.ClientID, cfg.RedirectURIPrefix())
	codec := cookie.NewCodec(string(cfg.PrivateKey), cfg.Stage, cfg.AuthenticationRoutePrefix)
	relayHandlers := server.NewRelayHandlers(service, codec, cfg.BackendURL)

	var mock *server.AuthorizationServerMock
	if cfg.Platform == config.PlatformLocal {
		if !envutil.IsDev() {
			log.LogWarnWithFields("relay", "Local platform accepts unverified id tokens outside development", map[string]any{
				"stage": cfg.Stage,
			})
		}
		issuer := cfg.AuthorizationServerURL
		if issuer == "" {
			issuer = idp.DefaultLocalAuthorizationServerURL
		}
		mock, err = server.NewAuthorizationServerMock(server.AuthorizationServerMockConfig{
			Issuer:            issuer,
			ClientID:          cfg.ClientID,
			ClientSecret:      string(cfg.ClientSecret),
			RedirectURIPrefix: cfg.RedirectURIPrefix(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to setup local authorization server: %w", err)
		}
	}

	return server.NewRouter(server.RouterConfig{
		AuthorizationRoutePrefix: cfg.AuthorizationRoutePrefix,
		AllowedOrigins:           cfg.AllowedOrigins,
	}, relayHandlers, mock), nil
}

// Run serves until SIGINT, SIGTERM or a server failure, then shuts down
func (a *AuthRelay) Run() error {
	log.LogInfoWithFields("relay", "Starting auth relay", map[string]any{
		"addr": a.config.Addr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	if a.cleanup != nil {
		a.cleanup.Start(gctx)
	}

	g.Go(func() error {
		<-gctx.Done()
		reason := "signal"
		if ctx.Err() == nil {
			reason = "server error"
		}
		log.LogInfoWithFields("relay", "Starting graceful shutdown", map[string]any{
			"reason":  reason,
			"timeout": shutdownTimeout.String(),
		})

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.httpServer.Stop(shutdownCtx)
	})

	err := g.Wait()
	if a.cleanup != nil {
		a.cleanup.Stop()
	}
	if cerr := a.storage.Close(); cerr != nil {
		log.LogErrorWithFields("relay", "Failed to close storage", map[string]any{
			"error": cerr.Error(),
		})
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.LogErrorWithFields("relay", "Auth relay stopped with error", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	log.LogInfoWithFields("relay", "Auth relay shutdown complete", nil)
	return nil
}

// setupStorage opens the configured State Store backend
func setupStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	sc := cfg.Storage
	ttl := sc.TTL.Std()
	fields := map[string]any{"kind": sc.Kind, "ttl": ttl.String()}

	switch sc.Kind {
	case config.StorageMemory, "":
		log.LogInfoWithFields("storage", "Using in-memory storage", fields)
		return storage.NewMemoryStorage(ttl), nil

	case config.StorageFirestore:
		collection := orDefault(sc.Table, config.DefaultStateCollection)
		fields["project"] = sc.ProjectID
		fields["database"] = sc.Database
		fields["collection"] = collection
		log.LogInfoWithFields("storage", "Using Firestore storage", fields)
		return storage.NewFirestoreStorage(ctx, sc.ProjectID, sc.Database, collection, ttl)

	case config.StorageDatastore:
		fields["project"] = sc.ProjectID
		fields["namespace"] = sc.Namespace
		log.LogInfoWithFields("storage", "Using Datastore storage", fields)
		return storage.NewDatastoreStorage(ctx, sc.ProjectID, sc.Namespace, ttl)

	case config.StorageRedis:
		fields["addr"] = sc.RedisAddr
		fields["db"] = sc.RedisDB
		log.LogInfoWithFields("storage", "Using Redis storage", fields)
		client, err := storage.DialRedis(ctx, sc.RedisAddr, string(sc.RedisPassword), sc.RedisDB)
		if err != nil {
			return nil, err
		}
		return storage.NewRedisStorage(client, orDefault(sc.Table, config.DefaultRedisKeyPrefix), ttl)

	case config.StorageDynamoDB:
		table := orDefault(sc.Table, config.DefaultDynamoDBTable)
		fields["table"] = table
		fields["region"] = sc.Region
		if sc.DynamoDBLocalURL != "" {
			fields["endpoint"] = sc.DynamoDBLocalURL
		}
		log.LogInfoWithFields("storage", "Using DynamoDB storage", fields)
		client, err := storage.NewDynamoDBClient(sc.Region, sc.DynamoDBLocalURL)
		if err != nil {
			return nil, err
		}
		return storage.NewDynamoDBStorage(client, table, ttl)

	case config.StoragePostgres:
		table := orDefault(sc.Table, config.DefaultStateCollection)
		fields["table"] = table
		log.LogInfoWithFields("storage", "Using Postgres storage", fields)
		db, err := storage.OpenPostgres(ctx, string(sc.PostgresDSN))
		if err != nil {
			return nil, err
		}
		pg, err := storage.NewPostgresStorage(db, table, ttl)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return pg, nil

	default:
		return nil, fmt.Errorf("unsupported storage kind: %s", sc.Kind)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
