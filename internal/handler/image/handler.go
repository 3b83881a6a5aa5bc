package image

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/liuwenjie/lumina/backend/internal/model/style"
	imageservice "github.com/liuwenjie/lumina/backend/internal/service/image"
	"github.com/liuwenjie/lumina/backend/pkg/utils"
)

// Handler 图片生成的HTTP处理器
type Handler struct {
	svc    imageservice.Generator
	styles style.Store
}

// New 创建图片处理器
func New(svc imageservice.Generator, styles style.Store) *Handler {
	return &Handler{svc: svc, styles: styles}
}

// RegisterRoutes 注册图片相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/image", h.handleGenerate)
	r.Get("/styles", h.handleListStyles)
}

type imageRequest struct {
	Prompt string `json:"prompt"`
	Style  string `json:"style"`
}

// handleGenerate 生成单张图片
func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var payload imageRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	prompt := strings.TrimSpace(payload.Prompt)
	if prompt == "" {
		utils.RespondError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	if payload.Style != "" {
		preset, ok := h.styles.FindByID(payload.Style)
		if !ok {
			utils.RespondError(w, http.StatusBadRequest, "style not found")
			return
		}
		if preset.PromptSuffix != "" {
			prompt = prompt + ", " + preset.PromptSuffix
		}
	}

	result, err := h.svc.Generate(r.Context(), prompt)
	if err != nil {
		// Refusals and transport failures are deliberately one shape
		// for callers.
		log.Printf("[image] generation failed: %v", err)
		utils.RespondError(w, http.StatusBadGateway, "image generation failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"imageUrl": result.DataURI(),
		"prompt":   result.Prompt,
	})
}

// handleListStyles 返回全部风格预设
func (h *Handler) handleListStyles(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.styles.List())
}
