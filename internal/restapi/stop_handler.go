package restapi

import (
	"errors"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"stopboard.transitkit.org/internal/gtfs"
	"stopboard.transitkit.org/internal/store"
)

// stopHandler serves GET /api/v1/stops/:id.
func (api *RestAPI) stopHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	stopID := ps.ByName("id")
	if stopID == "" {
		api.badRequestResponse(w, r, "stop id is required")
		return
	}

	stop, err := api.Manager.StopByID(r.Context(), stopID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			api.sendNotFound(w, r)
		case errors.Is(err, gtfs.ErrNoSnapshot):
			api.serviceUnavailableResponse(w, r, "schedule data not loaded yet")
		case errors.Is(err, store.ErrUnavailable):
			api.serviceUnavailableResponse(w, r, "storage backend unavailable")
		default:
			api.serverErrorResponse(w, r, err)
		}
		return
	}

	api.sendResponse(w, r, stop)
}
