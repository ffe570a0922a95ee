package utils

import (
	"encoding/json"
	"log"
	"net/http"
)

// ErrorBody 统一的错误响应体
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// RespondError 发送错误响应，code 为机器可读的错误类别
func RespondError(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, map[string]ErrorBody{"error": {Code: code, Message: message}})
}
