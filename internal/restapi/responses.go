package restapi

import (
	"encoding/json"
	"net/http"
	"time"
)

// errorResponse is the body shape every error response shares.
type errorResponse struct {
	Code        int    `json:"code"`
	CurrentTime int64  `json:"currentTime"`
	Text        string `json:"text"`
	Version     int    `json:"version"`
}

func responseCurrentTime() int64 {
	return time.Now().UnixMilli()
}

func (api *RestAPI) sendResponse(w http.ResponseWriter, r *http.Request, response any) {
	w.Header().Set("Content-Type", "application/json")

	err := json.NewEncoder(w).Encode(response)
	if err != nil {
		api.Logger.Error("failed to encode response", "error", err, "path", r.URL.Path)
	}
}

func (api *RestAPI) sendError(w http.ResponseWriter, r *http.Request, status int, text string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := errorResponse{
		Code:        status,
		CurrentTime: responseCurrentTime(),
		Text:        text,
		Version:     1,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		api.Logger.Error("failed to encode error response", "error", err, "path", r.URL.Path)
	}
}
