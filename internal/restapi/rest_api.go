package restapi

import (
	"stopboard.transitkit.org/internal/app"
)

type RestAPI struct {
	*app.Application
}

// NewRestAPI creates a new RestAPI instance wrapping the application
// dependencies.
func NewRestAPI(app *app.Application) *RestAPI {
	return &RestAPI{Application: app}
}
