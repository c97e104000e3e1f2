package middleware

import (
	"encoding/json"
	"net/http"

	"imagegateway/internal/domain"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError renders err with its taxonomy kind and status.
func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(domain.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(errorBody{Error: domain.KindOf(err), Message: publicMessage(err)})
}

// publicMessage hides internal detail for unclassified errors.
func publicMessage(err error) string {
	if domain.KindOf(err) == domain.KindInternal {
		return "internal error"
	}
	return err.Error()
}
