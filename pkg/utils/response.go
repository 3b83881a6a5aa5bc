package utils

import (
	"encoding/json"
	"log"
	"net/http"
)

// ErrorBody 所有端点统一的JSON错误载荷
type ErrorBody struct {
	Error string `json:"error"`
}

// RespondJSON 以JSON写出响应体
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[http] failed to encode response: %v", err)
	}
}

// RespondError 写出结构化的 {"error": ...} 错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorBody{Error: message})
}
