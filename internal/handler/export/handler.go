package export

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/liuwenjie/lumina/backend/internal/model/chat"
	"github.com/liuwenjie/lumina/backend/pkg/utils"
)

// Handler 对话导出处理器
type Handler struct{}

// New 创建导出处理器
func New() *Handler {
	return &Handler{}
}

// RegisterRoutes 注册导出路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/export", h.handleExport)
}

// handleExport 将对话记录导出为带时间戳文件名的JSON附件
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	var messages []chat.Message
	if err := json.NewDecoder(r.Body).Decode(&messages); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	payload, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "export failed")
		return
	}

	filename := fmt.Sprintf("lumina-history-%s.json", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
