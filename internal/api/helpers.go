// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/cadenzalab/cadenza/internal/logging"
	"github.com/cadenzalab/cadenza/internal/models"
)

// sanitizeLogValue strips control characters from user-supplied strings
// before they reach the logs, closing the log-injection hole.
func sanitizeLogValue(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			result.WriteString(fmt.Sprintf("\\x%02x", r))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// respondJSON writes the uniform response envelope.
func respondJSON(w http.ResponseWriter, status int, response *models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("ETag", generateETag(data))
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("failed to write JSON response")
	}
}

// respondData is the success shorthand.
func respondData(w http.ResponseWriter, status int, data interface{}) {
	respondJSON(w, status, &models.APIResponse{Status: "ok", Data: data})
}

// respondError writes an error envelope; the optional err goes to the log,
// never to the client.
func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().
			Str("code", sanitizeLogValue(code)).
			Str("error", sanitizeLogValue(err.Error())).
			Msg("api error")
	}

	respondJSON(w, status, &models.APIResponse{
		Status: "error",
		Error:  &models.APIError{Code: code, Message: message},
	})
}

// generateETag hashes the body with FNV-1a.
func generateETag(data []byte) string {
	hash := uint32(2166136261)
	for _, b := range data {
		hash ^= uint32(b)
		hash *= 16777619
	}
	return strconv.FormatUint(uint64(hash), 16)
}

// decodeJSON parses a request body with a size cap.
func decodeJSON(r *http.Request, v interface{}) error {
	const maxBodySize = 1 << 20 // 1 MB
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize)).Decode(v)
}

// queryInt parses an integer query parameter with a default and cap.
func queryInt(r *http.Request, name string, def, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
