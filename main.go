package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/aziende/editorbridge/handlers"
	"github.com/aziende/editorbridge/internal/callback"
	"github.com/aziende/editorbridge/internal/config"
	"github.com/aziende/editorbridge/internal/database"
	"github.com/aziende/editorbridge/internal/document/handler"
	"github.com/aziende/editorbridge/internal/document/repository"
	"github.com/aziende/editorbridge/internal/editor"
	"github.com/aziende/editorbridge/internal/oidc"
	"github.com/aziende/editorbridge/internal/sessions"
	"github.com/aziende/editorbridge/internal/storage"
	"github.com/aziende/editorbridge/internal/tokens"
	"github.com/aziende/editorbridge/pkg/logger"
	"github.com/aziende/editorbridge/pkg/metrics"
	"github.com/aziende/editorbridge/pkg/middleware"
)

var startTime = time.Now()

func main() {
	logger.Init(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: store=%s keycloak=%v redis=%v minio=%v editor_jwt=%v",
		cfg.Store.Driver, cfg.Keycloak.URL != "", cfg.Redis.Host != "", cfg.MinIO.Endpoint != "", cfg.Editor.JWTEnabled)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("failed to open %s document store: %v", cfg.Store.Driver, err)
	}
	defer closeStore()

	checks := map[string]handlers.Check{"store": repo.Ping}

	var rdb *redis.Client
	var presence *sessions.Presence
	if cfg.Redis.Host != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Host + ":" + cfg.Redis.Port, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s:%s): %v", cfg.Redis.Host, cfg.Redis.Port, err)
		} else {
			logger.Infof("connected to Redis %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		}
		presence = sessions.NewPresence(rdb, "editing:", cfg.Editor.PresenceTTL)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	var archive *storage.MinIOStorage
	if cfg.MinIO.Endpoint != "" {
		if archive, err = storage.NewMinIOStorage(ctx, cfg.MinIO); err != nil {
			logger.Warnf("content archive disabled: %v", err)
			archive = nil
		} else {
			checks["minio"] = archive.Ping
		}
	}

	issuer := tokens.NewIssuer(tokens.NewKeyring(cfg.Editor.TokenKeyVersion, cfg.Editor.TokenSecret, cfg.Editor.PreviousSecrets))
	var editorJWT *tokens.EditorJWT
	if cfg.Editor.JWTEnabled {
		editorJWT = tokens.NewEditorJWT(cfg.Editor.JWTSecret)
	}

	builder := editor.NewBuilder(repo, issuer, editorJWT, editor.Options{
		PublicURL:   cfg.Server.PublicURL,
		EditorURL:   cfg.Editor.ServerURL,
		TokenTTL:    cfg.Editor.TokenTTL,
		CallbackTTL: cfg.Editor.CallbackTTL,
	})
	reconciler := callback.NewReconciler(repo, newFetcher(cfg.Editor), issuer, reconcilerOptions(editorJWT, presence, archive)...)

	auth := middleware.RejectUnauthenticated("identity provider not configured")
	if verifier, err := oidc.FromConfig(ctx, cfg.Keycloak); err != nil {
		logger.Warnf("authenticated routes disabled: %v", err)
		checks["oidc"] = func(context.Context) error { return err }
	} else {
		auth = middleware.AuthMiddleware(verifier)
	}

	gin.SetMode(gin.ReleaseMode)
	if cfg.Server.Environment == "development" {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), cors)

	// the limiter sits behind auth so buckets follow the requester; the
	// editor server's content and callback traffic is never limited
	guard := []gin.HandlerFunc{auth}
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && rdb != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			guard = append(guard, middleware.RedisRateLimitMiddleware(rdb, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			guard = append(guard, middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	handlers.RegisterHealth(r, startTime, 2*time.Second, checks)
	handlers.RegisterSwagger(r)
	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	deps := handler.Deps{Repo: repo, Builder: builder, Reconciler: reconciler, Issuer: issuer, JWTHeader: cfg.Editor.JWTHeader}
	if presence != nil {
		deps.Presence = presence
	}
	handler.RegisterDocumentRoutes(r, deps, guard...)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Infof("starting editor bridge on %s (public %s)", srv.Addr, cfg.Server.PublicURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}

// openStore connects the configured document store.
func openStore(ctx context.Context, cfg *config.Config) (repository.Repository, func(), error) {
	switch cfg.Store.Driver {
	case "mysql":
		db, err := database.ConnectMySQL(ctx, cfg.MySQL.DSN, cfg.MySQL.MaxOpenConns, 10*time.Second)
		if err != nil {
			return nil, nil, err
		}
		if cfg.MySQL.AutoMigrate {
			if err := database.Migrate(ctx, db); err != nil {
				db.Close()
				return nil, nil, err
			}
		}
		return repository.NewMySQLRepo(db), func() { _ = db.Close() }, nil
	case "mongo":
		client, err := database.ConnectMongoWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, 5)
		if err != nil {
			return nil, nil, err
		}
		repo, err := repository.NewMongoRepo(ctx, client, cfg.MongoDB.Database)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		return repo, func() { _ = client.Disconnect(context.Background()) }, nil
	}
	logger.Warnf("using in-memory document store; content is lost on restart")
	return repository.NewMemoryRepo(), func() {}, nil
}

func newFetcher(cfg config.EditorConfig) *callback.HTTPFetcher {
	host := ""
	if cfg.RestrictFetchHost {
		if u, err := url.Parse(cfg.ServerURL); err == nil {
			host = u.Host
		}
	}
	return callback.NewHTTPFetcher(cfg.FetchTimeout, cfg.MaxContentBytes, host)
}

func reconcilerOptions(editorJWT *tokens.EditorJWT, presence *sessions.Presence, archive *storage.MinIOStorage) []callback.Option {
	var opts []callback.Option
	if editorJWT != nil {
		opts = append(opts, callback.WithEditorJWT(editorJWT))
	}
	if presence != nil {
		opts = append(opts, callback.WithPresence(presence))
	}
	if archive != nil {
		opts = append(opts, callback.WithArchiver(archive))
	}
	return opts
}

// cors is a permissive policy for the dev frontend.
func cors(c *gin.Context) {
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
	c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
	c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
	c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length, X-Document-Version")
	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusOK)
		return
	}
	c.Next()
}
