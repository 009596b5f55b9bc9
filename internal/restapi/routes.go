package restapi

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// Router builds the service's route table.
func (api *RestAPI) Router() http.Handler {
	router := httprouter.New()
	router.HandlerFunc(http.MethodGet, "/api/v1/arrivals", api.arrivalsHandler)
	router.Handle(http.MethodGet, "/api/v1/stops/:id", api.stopHandler)
	router.HandlerFunc(http.MethodGet, "/api/v1/health", api.healthHandler)
	return router
}
