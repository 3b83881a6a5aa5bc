package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/liuwenjie/lumina/backend/internal/config"
	"github.com/liuwenjie/lumina/backend/internal/handler"
	"github.com/liuwenjie/lumina/backend/internal/middleware"
	"github.com/liuwenjie/lumina/backend/internal/model/style"
	"github.com/liuwenjie/lumina/backend/internal/service/ai"
	imageservice "github.com/liuwenjie/lumina/backend/internal/service/image"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	deps := handler.Deps{
		Styles:    style.NewMemoryStore(style.Seed()),
		Speech:    cfg.Speech,
		RateLimit: middleware.DefaultRateLimitConfig(),
	}

	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing without chat functionality - 请检查 Ark 模型相关环境变量")
		} else {
			deps.ChatService = aiService
			log.Println("AI service initialized successfully")
		}
	} else {
		log.Println("Ark 凭证未配置，跳过 AI 功能初始化")
	}

	if cfg.Image.Enabled() {
		deps.ImageService = imageservice.NewClient(cfg.Image.BaseURL, cfg.Image.Model, cfg.Image.APIKey, cfg.Image.Timeout)
		log.Println("Image service initialized successfully")
	} else {
		log.Println("图片服务凭证未配置，跳过图片功能初始化")
	}

	if cfg.Speech.Enabled {
		log.Printf("Voice relay enabled, upstream=%s", cfg.Speech.UpstreamWSURL)
	} else {
		log.Println("语音服务未配置，语音中继将返回 503")
	}

	router := handler.NewRouter(deps)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.Server, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Lumina proxy listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
