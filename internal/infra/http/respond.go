package http

import (
	"encoding/json"
	"net/http"
)

// WriteJSON отправляет произвольный ответ в JSON.
func WriteJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// WriteStatus отправляет стандартный ответ {status, message}.
func WriteStatus(w http.ResponseWriter, status, message string) {
	WriteJSON(w, map[string]string{"status": status, "message": message})
}

// WriteError отправляет JSON с ошибкой и HTTP-статусом.
func WriteError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
