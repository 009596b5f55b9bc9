package restapi

import (
	"net/http"
)

type healthStatus struct {
	Status          string `json:"status"`
	Env             string `json:"env"`
	SnapshotVersion string `json:"snapshot_version,omitempty"`
	Store           string `json:"store"`
}

// healthHandler reports process liveness plus the adopted snapshot version
// and store reachability. It degrades rather than failing: a missing snapshot
// or unreachable store reports status "degraded" with a 200.
func (api *RestAPI) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{
		Status:          "ok",
		Env:             api.Config.Env,
		SnapshotVersion: api.Manager.Version(),
		Store:           "ok",
	}
	if err := api.Store.Ping(r.Context()); err != nil {
		status.Status = "degraded"
		status.Store = "unavailable"
	}
	if status.SnapshotVersion == "" {
		status.Status = "degraded"
	}

	api.sendResponse(w, r, status)
}
