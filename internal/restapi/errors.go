package restapi

import (
	"net/http"
)

func (api *RestAPI) serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	api.Logger.Error("request failed", "error", err, "path", r.URL.Path)
	api.sendError(w, r, http.StatusInternalServerError, "internal server error")
}

func (api *RestAPI) sendNotFound(w http.ResponseWriter, r *http.Request) {
	api.sendError(w, r, http.StatusNotFound, "resource not found")
}

func (api *RestAPI) badRequestResponse(w http.ResponseWriter, r *http.Request, text string) {
	api.sendError(w, r, http.StatusBadRequest, text)
}

// serviceUnavailableResponse covers the window before the first snapshot is
// adopted and store backend outages.
func (api *RestAPI) serviceUnavailableResponse(w http.ResponseWriter, r *http.Request, text string) {
	api.sendError(w, r, http.StatusServiceUnavailable, text)
}
