package api

import (
	"fmt"
	"net/http"

	"github.com/parishworks/registratura/internal/server"
	"github.com/parishworks/registratura/pkg/models"
	"github.com/parishworks/registratura/pkg/registry"
)

type RegisterConfigurationsGetResponse struct {
	Configurations []models.RegisterConfiguration `json:"configurations"`
}

// RegisterConfigurationsHandler serves GET (list) and POST (create) on
// /register-configurations.
func RegisterConfigurationsHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logArgs := logArgsFor(r)

		switch r.Method {
		case http.MethodGet:
			p := newQueryParser(srv, r)
			params := registry.ListConfigurationsParams{
				ParishID:       p.uintPtr("parishId"),
				IncludeShared:  p.bool("includeShared"),
				IncludeRetired: p.bool("includeRetired"),
			}
			if err := p.err(); err != nil {
				respondBadRequest(w, err)
				return
			}

			cfgs, err := srv.Engine.Configurations.List(r.Context(), params)
			if err != nil {
				respondError(srv, w, err, logArgs)
				return
			}
			if cfgs == nil {
				cfgs = []models.RegisterConfiguration{}
			}
			respondJSON(w, http.StatusOK, RegisterConfigurationsGetResponse{Configurations: cfgs})

		case http.MethodPost:
			var req registry.CreateConfigurationParams
			if err := decodeRequest(r, &req); err != nil {
				respondBadRequest(w, fmt.Errorf("invalid request body: %w", err))
				return
			}

			cfg, err := srv.Engine.Configurations.Create(r.Context(), req)
			if err != nil {
				respondError(srv, w, err, logArgs)
				return
			}

			srv.Logger.Info("created register configuration",
				append([]any{
					"configuration_id", cfg.ID,
					"name", cfg.Name,
				}, logArgs...)...)
			respondJSON(w, http.StatusCreated, cfg)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

// RegisterConfigurationHandler serves GET, PATCH and DELETE on
// /register-configurations/{id}.
func RegisterConfigurationHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logArgs := logArgsFor(r)

		id, err := idParam(r)
		if err != nil {
			respondBadRequest(w, err)
			return
		}
		logArgs = append(logArgs, "configuration_id", id)

		switch r.Method {
		case http.MethodGet:
			cfg, err := srv.Engine.Configurations.Get(r.Context(), id)
			if err != nil {
				respondError(srv, w, err, logArgs)
				return
			}
			respondJSON(w, http.StatusOK, cfg)

		case http.MethodPatch:
			var patch registry.ConfigurationPatch
			if err := decodeRequest(r, &patch); err != nil {
				respondBadRequest(w, fmt.Errorf("invalid request body: %w", err))
				return
			}

			cfg, err := srv.Engine.Configurations.Update(r.Context(), id, patch)
			if err != nil {
				respondError(srv, w, err, logArgs)
				return
			}
			srv.Logger.Info("updated register configuration", logArgs...)
			respondJSON(w, http.StatusOK, cfg)

		case http.MethodDelete:
			if err := srv.Engine.Configurations.Delete(r.Context(), id); err != nil {
				respondError(srv, w, err, logArgs)
				return
			}
			srv.Logger.Info("retired register configuration", logArgs...)
			w.WriteHeader(http.StatusNoContent)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

// RegisterConfigurationDefaultHandler makes a configuration the default of
// its scope.
func RegisterConfigurationDefaultHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r)
		if err != nil {
			respondBadRequest(w, err)
			return
		}

		cfg, err := srv.Engine.Configurations.SetDefault(r.Context(), id)
		if err != nil {
			respondError(srv, w, err, append(logArgsFor(r), "configuration_id", id))
			return
		}
		respondJSON(w, http.StatusOK, cfg)
	})
}
