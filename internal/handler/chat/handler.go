package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	chatmodel "github.com/liuwenjie/lumina/backend/internal/model/chat"
	"github.com/liuwenjie/lumina/backend/pkg/utils"
)

// Service is the slice of the AI service the chat endpoints consume.
type Service interface {
	Generate(ctx context.Context, history []chatmodel.Turn, query string) (string, error)
	Stream(ctx context.Context, history []chatmodel.Turn, query string) (*schema.StreamReader[*schema.Message], error)
	StreamingEnabled() bool
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	svc Service
}

// New 创建聊天处理器
func New(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Post("/chat/stream", h.handleChatStream)
}

type chatRequest struct {
	History []chatmodel.Turn `json:"history"`
	Message string           `json:"message"`
}

// StreamEvent is one SSE chunk of a streamed reply.
type StreamEvent struct {
	Event    string `json:"event"`
	Content  string `json:"content,omitempty"`
	Finished bool   `json:"finished,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleChat 一次性返回完整回复
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload chatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := h.svc.Generate(r.Context(), payload.History, payload.Message)
	if err != nil {
		log.Printf("[chat] generation failed: %v", err)
		utils.RespondError(w, http.StatusBadGateway, "chat generation failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

// handleChatStream 以SSE流式返回回复片段
func (h *Handler) handleChatStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var payload chatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}

	utils.SetupSSEHeaders(w)

	full, err := h.dispatchResponse(r.Context(), w, flusher, payload)
	if err != nil {
		log.Printf("[chat] stream failed: %v", err)
		utils.SendSSEChunk(w, flusher, StreamEvent{Event: "error", Error: fmt.Sprintf("chat streaming failed: %v", err)})
		return
	}

	utils.SendSSEChunk(w, flusher, StreamEvent{Event: "message", Content: full})
	utils.SendSSEChunk(w, flusher, StreamEvent{Event: "end", Finished: true})
}

// dispatchResponse streams fragments when the provider supports it, and
// falls back to one complete reply otherwise.
func (h *Handler) dispatchResponse(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, payload chatRequest) (string, error) {
	if !h.svc.StreamingEnabled() {
		reply, err := h.svc.Generate(ctx, payload.History, payload.Message)
		if err != nil {
			return "", err
		}
		utils.SendSSEChunk(w, flusher, StreamEvent{Event: "delta", Content: reply})
		return reply, nil
	}

	stream, err := h.svc.Stream(ctx, payload.History, payload.Message)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", recvErr
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			utils.SendSSEChunk(w, flusher, StreamEvent{Event: "delta", Content: chunk.Content})
		}
	}

	response, err := schema.ConcatMessages(chunks)
	if err != nil {
		return "", err
	}
	return response.Content, nil
}
