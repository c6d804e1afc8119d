package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/parishworks/registratura/internal/server"
)

// Routes returns the /api/v2 route tree.
func Routes(srv server.Server) http.Handler {
	r := chi.NewRouter()

	r.Route("/documents", func(r chi.Router) {
		r.Method(http.MethodGet, "/", DocumentsHandler(srv))
		r.Method(http.MethodPost, "/", DocumentsHandler(srv))

		r.Route("/{id}", func(r chi.Router) {
			r.Method(http.MethodGet, "/", DocumentHandler(srv))
			r.Method(http.MethodPatch, "/", DocumentHandler(srv))
			r.Method(http.MethodDelete, "/", DocumentHandler(srv))
			r.Method(http.MethodPost, "/register", DocumentRegisterHandler(srv))
			r.Method(http.MethodPost, "/route", DocumentRouteHandler(srv))
			r.Method(http.MethodPost, "/cancel", DocumentCancelHandler(srv))
			r.Method(http.MethodGet, "/history", DocumentHistoryHandler(srv))
		})
	})

	r.Route("/register-configurations", func(r chi.Router) {
		r.Method(http.MethodGet, "/", RegisterConfigurationsHandler(srv))
		r.Method(http.MethodPost, "/", RegisterConfigurationsHandler(srv))

		r.Route("/{id}", func(r chi.Router) {
			r.Method(http.MethodGet, "/", RegisterConfigurationHandler(srv))
			r.Method(http.MethodPatch, "/", RegisterConfigurationHandler(srv))
			r.Method(http.MethodDelete, "/", RegisterConfigurationHandler(srv))
			r.Method(http.MethodPost, "/default", RegisterConfigurationDefaultHandler(srv))
		})
	})

	return r
}
