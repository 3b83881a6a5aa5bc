package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/liuwenjie/lumina/backend/internal/config"
	chathandler "github.com/liuwenjie/lumina/backend/internal/handler/chat"
	exporthandler "github.com/liuwenjie/lumina/backend/internal/handler/export"
	imagehandler "github.com/liuwenjie/lumina/backend/internal/handler/image"
	voicehandler "github.com/liuwenjie/lumina/backend/internal/handler/voice"
	"github.com/liuwenjie/lumina/backend/internal/middleware"
	"github.com/liuwenjie/lumina/backend/internal/model/style"
	imageservice "github.com/liuwenjie/lumina/backend/internal/service/image"
	"github.com/liuwenjie/lumina/backend/pkg/utils"
)

const maxBodyBytes = 10 << 20

// Deps carries the services the router wires up. Nil entries disable
// the matching routes with a 503 instead of panicking.
type Deps struct {
	ChatService  chathandler.Service
	ImageService imageservice.Generator
	Styles       style.Store
	Speech       config.SpeechConfig
	RateLimit    middleware.RateLimitConfig
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS)
	r.Use(middleware.MaxBody(maxBodyBytes))

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.RateLimit(deps.RateLimit))

		if deps.ChatService != nil {
			chathandler.New(deps.ChatService).RegisterRoutes(api)
		} else {
			api.Post("/chat", serviceUnavailable("chat service unavailable"))
			api.Post("/chat/stream", serviceUnavailable("chat service unavailable"))
		}

		if deps.ImageService != nil {
			imagehandler.New(deps.ImageService, deps.Styles).RegisterRoutes(api)
		} else {
			api.Post("/image", serviceUnavailable("image service unavailable"))
			api.Get("/styles", serviceUnavailable("image service unavailable"))
		}

		exporthandler.New().RegisterRoutes(api)
	})

	// WebSocket relay lives outside /api so it skips the rate limiter
	// and body cap.
	voicehandler.NewWebSocketHandler(deps.Speech).RegisterWebSocketRoutes(r)

	return r
}

func serviceUnavailable(message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		utils.RespondError(w, http.StatusServiceUnavailable, message)
	}
}
