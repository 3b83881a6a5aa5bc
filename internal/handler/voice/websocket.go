package voice

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/liuwenjie/lumina/backend/internal/config"
)

// WebSocketHandler 语音转写的WebSocket中继
//
// Frames from the browser are forwarded to the upstream transcription
// service untouched, and transcript frames flow back the same way. The
// relay holds no per-session state.
type WebSocketHandler struct {
	cfg      config.SpeechConfig
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
}

// NewWebSocketHandler 创建语音中继处理器
func NewWebSocketHandler(cfg config.SpeechConfig) *WebSocketHandler {
	return &WebSocketHandler{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		dialer: &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws/voice", h.handleRelay)
}

// handleRelay 处理一条语音中继连接
func (h *WebSocketHandler) handleRelay(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.Enabled {
		http.Error(w, "voice transcription unavailable", http.StatusServiceUnavailable)
		return
	}

	upstream, _, err := h.dialer.DialContext(r.Context(), h.cfg.UpstreamWSURL, nil)
	if err != nil {
		log.Printf("[voice] upstream dial failed: %v", err)
		http.Error(w, "voice transcription unavailable", http.StatusBadGateway)
		return
	}
	defer upstream.Close()

	client, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[voice] upgrade failed: %v", err)
		return
	}
	defer client.Close()

	log.Printf("[voice] relay opened remote=%s", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go pump(cancel, client, upstream, "client->upstream")
	go pump(cancel, upstream, client, "upstream->client")

	<-ctx.Done()
	log.Printf("[voice] relay closed remote=%s", r.RemoteAddr)
}

// pump copies frames from src to dst until either side closes.
func pump(cancel context.CancelFunc, src, dst *websocket.Conn, direction string) {
	defer cancel()
	for {
		msgType, payload, err := src.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[voice] read failed %s: %v", direction, err)
			}
			return
		}
		if err := dst.WriteMessage(msgType, payload); err != nil {
			log.Printf("[voice] write failed %s: %v", direction, err)
			return
		}
	}
}
