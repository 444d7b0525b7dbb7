package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Brownie44l1/dr-api/internal/auth"
	"github.com/Brownie44l1/dr-api/internal/config"
	"github.com/Brownie44l1/dr-api/internal/handlers"
	"github.com/Brownie44l1/dr-api/internal/model"
	"github.com/Brownie44l1/dr-api/internal/retry"
	"github.com/Brownie44l1/dr-api/internal/store"
	"github.com/Brownie44l1/dr-api/internal/uploads"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// run returns only after its deferred cleanup, so the ONNX session and
	// runtime are released before a failing exit.
	if err := run(cfg); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func run(cfg *config.Config) error {
	secret := cfg.Server.SecretKey
	if secret == "" {
		var err error
		secret, err = auth.GenerateSecureToken(32)
		if err != nil {
			return fmt.Errorf("failed to generate secret key: %w", err)
		}
		log.Println("WARNING: DR_SECRET_KEY is not set; using a random key, sessions will not survive a restart")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.Model.DownloadRetries
	client := &http.Client{Timeout: 10 * time.Minute}
	if err := model.EnsureFile(ctx, client, cfg.Model.BackbonePath, cfg.Model.BackboneURL, retryCfg); err != nil {
		return fmt.Errorf("failed to fetch backbone: %w", err)
	}
	if err := model.EnsureFile(ctx, client, cfg.Model.Path, cfg.Model.URL, retryCfg); err != nil {
		return fmt.Errorf("failed to fetch model: %w", err)
	}

	if err := model.InitRuntime(cfg.Model.OnnxRuntimeLib); err != nil {
		return err
	}
	defer model.DestroyRuntime()

	log.Printf("Loading model from: %s", cfg.Model.Path)
	classifier, err := model.LoadClassifier(cfg.Model.Path, cfg.Model.BackbonePath)
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}
	defer classifier.Close()

	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	users := store.NewUserStore(db)
	sessions := store.NewSessionStore(db)
	go purgeSessions(ctx, sessions, time.Hour)

	uploadStore, err := uploads.NewStore(cfg.Server.UploadDir)
	if err != nil {
		return err
	}

	manager := auth.NewManager(sessions, users, secret, cfg.Server.SessionTTL.Duration)
	manager.SetSecure(cfg.Server.SecureCookies)
	handler := handlers.NewHandler(classifier, auth.NewService(users), manager, uploadStore, cfg.Server.MaxUploadMB<<20)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router, err := handlers.NewRouter(handler)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	meta := classifier.Metadata()
	log.Printf("Server starting on port %s", cfg.Server.Port)
	log.Printf("Classes: %v", meta.Classes)
	log.Printf("Input: %dx%d %s, normalization %s", meta.ImageSize, meta.ImageSize, meta.Layout, meta.Normalization)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

func purgeSessions(ctx context.Context, sessions *store.SessionStore, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.DeleteExpired(ctx)
			if err != nil {
				log.Printf("Failed to purge sessions: %v", err)
			} else if n > 0 {
				log.Printf("Purged %d expired sessions", n)
			}
		}
	}
}
