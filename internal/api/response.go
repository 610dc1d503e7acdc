package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// internalErrorBody is written when a response cannot be encoded.
const internalErrorBody = `{"status":"error","message":"Internal server error"}`

// writeJSONResponse encodes response before touching headers so an encoding
// failure can still become a clean 500.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response any) {
	body, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: encode failed", "error", err, "status", statusCode)
		body, statusCode = []byte(internalErrorBody), http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(append(body, '\n')); err != nil {
		slog.Debug("Server.writeJSONResponse: client went away", "error", err)
	}
}
