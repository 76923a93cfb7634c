package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/flowline-dev/flowline/pkg/schema"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps a store error onto an HTTP status.
func writeStoreError(w http.ResponseWriter, err error, kind string) {
	var flowErr *schema.FlowError
	if errors.As(err, &flowErr) && flowErr.Code == schema.ErrCodeNotFound {
		writeError(w, http.StatusNotFound, flowErr.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, fmt.Sprintf("%s: %v", kind, err))
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
