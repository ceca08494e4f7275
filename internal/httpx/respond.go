package httpx

import (
	"encoding/json"
	"github.com/ariefcatur/go-checkout-core/internal/checkout"
	"net/http"
)

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, code int, v any) {
	writeJSON(w, code, map[string]any{"data": v})
}

// writeError renders any error as the error envelope. Internal causes stay in
// the logs; clients only see the code and message.
func writeError(w http.ResponseWriter, err error) *checkout.Error {
	ce := checkout.AsError(err)
	writeJSON(w, ce.Status, map[string]any{"error": errorBody{
		Code:    ce.Code,
		Message: ce.Message,
		Details: ce.Details,
	}})
	return ce
}
