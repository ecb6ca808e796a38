package handler

import (
	"encoding/json"
	"net/http"

	"github.com/ayo6706/merchant-settlement/internal/api/problem"
	"go.uber.org/zap"
)

func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

// RespondError writes a problem body; slug is expanded by problem.Type.
func RespondError(w http.ResponseWriter, r *http.Request, status int, slug, message string) {
	problem.Write(w, r, problem.New(status, slug, message))
}
