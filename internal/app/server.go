package app

import (
	"github.com/gorilla/mux"
	"roomgraph/internal/handlers"
	"roomgraph/internal/server"
)

// Router builds the control API handler
func (app *App) Router() *mux.Router {
	h := handlers.New(app.Service, app.Transport, app.Store)
	router := mux.NewRouter()
	SetupRoutes(router, h, app.Auth.RequireAuth, app.Limiter, app.Metrics.Handler())
	return router
}

// NewServer creates the HTTP server for the control API
func (app *App) NewServer() *server.Server {
	return server.New(app.Router(), app.Config.Port, app.Config.TLSCertFile, app.Config.TLSKeyFile)
}
