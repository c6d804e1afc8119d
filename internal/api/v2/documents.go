package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/parishworks/registratura/internal/server"
	"github.com/parishworks/registratura/pkg/models"
	"github.com/parishworks/registratura/pkg/registry"
)

// DocumentsPostRequest is the body of POST /documents.
type DocumentsPostRequest struct {
	ParishID                uint                `json:"parishId"`
	DocumentType            models.DocumentType `json:"documentType"`
	RegisterConfigurationID uint                `json:"registerConfigurationId,omitempty"`

	// RegisterImmediately numbers the document on creation. Asking for
	// status "registered" does the same.
	RegisterImmediately bool                  `json:"registerImmediately,omitempty"`
	Status              models.DocumentStatus `json:"status,omitempty"`

	// Fields holds every other key of the body. The registry decodes them
	// into document fields, the same way it decodes a PATCH body.
	Fields map[string]any `json:"-"`
}

var documentsPostControlKeys = []string{
	"parishId", "documentType", "registerConfigurationId", "registerImmediately", "status",
}

func (req *DocumentsPostRequest) UnmarshalJSON(data []byte) error {
	type plain DocumentsPostRequest
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for _, k := range documentsPostControlKeys {
		delete(fields, k)
	}

	*req = DocumentsPostRequest(p)
	req.Fields = fields
	return nil
}

// DocumentRoutePostRequest is the body of POST /documents/{id}/route.
type DocumentRoutePostRequest struct {
	Action             models.WorkflowAction `json:"action"`
	ActingUserID       *uint                 `json:"actingUserId,omitempty"`
	ActingDepartmentID *uint                 `json:"actingDepartmentId,omitempty"`
	ToUserID           *uint                 `json:"toUserId,omitempty"`
	ToDepartmentID     *uint                 `json:"toDepartmentId,omitempty"`
	Resolution         *string               `json:"resolution,omitempty"`
	Notes              *string               `json:"notes,omitempty"`
}

type DocumentRoutePostResponse struct {
	Document *models.Document        `json:"document"`
	Record   *models.WorkflowRecord `json:"record"`
}

type DocumentCancelPostRequest struct {
	Notes *string `json:"notes,omitempty"`
}

type DocumentHistoryGetResponse struct {
	DocumentID uint                    `json:"documentId"`
	History    []models.WorkflowRecord `json:"history"`
}

// DocumentsHandler serves GET (list) and POST (create) on /documents.
func DocumentsHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logArgs := logArgsFor(r)

		switch r.Method {
		case http.MethodGet:
			filter, err := parseDocumentFilter(srv, r)
			if err != nil {
				respondBadRequest(w, err)
				return
			}

			page, err := srv.Engine.Query.ListDocuments(r.Context(), filter)
			if err != nil {
				respondError(srv, w, err, logArgs)
				return
			}
			respondJSON(w, http.StatusOK, page)

		case http.MethodPost:
			var req DocumentsPostRequest
			if err := decodeRequest(r, &req); err != nil {
				srv.Logger.Warn("error decoding request",
					append([]any{"error", err}, logArgs...)...)
				respondBadRequest(w, fmt.Errorf("invalid request body: %w", err))
				return
			}

			fields, err := srv.Engine.Documents.DecodeFields(req.Fields)
			if err != nil {
				respondBadRequest(w, fmt.Errorf("invalid request body: %w", err))
				return
			}

			register := req.RegisterImmediately
			switch req.Status {
			case "", models.DocumentStatusDraft:
			case models.DocumentStatusRegistered:
				register = true
			default:
				respondBadRequest(w, fmt.Errorf(
					"status must be %q or %q on create", models.DocumentStatusDraft, models.DocumentStatusRegistered))
				return
			}

			doc, err := srv.Engine.Documents.CreateDocument(r.Context(), registry.CreateDocumentParams{
				ParishID:                req.ParishID,
				DocumentType:            req.DocumentType,
				RegisterConfigurationID: req.RegisterConfigurationID,
				Fields:                  fields,
				RegisterImmediately:     register,
			})
			if err != nil {
				respondError(srv, w, err, logArgs)
				return
			}

			srv.Logger.Info("created document",
				append([]any{
					"document_id", doc.ID,
					"status", doc.Status,
				}, logArgs...)...)
			respondJSON(w, http.StatusCreated, doc)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

func parseDocumentFilter(srv server.Server, r *http.Request) (registry.DocumentFilter, error) {
	p := newQueryParser(srv, r)

	f := registry.DocumentFilter{
		ParishID:                p.uintPtr("parishId"),
		RegisterConfigurationID: p.uintPtr("registerConfigurationId"),
		RegistrationYear:        p.intPtr("registrationYear"),
		AssignedTo:              p.uintPtr("assignedTo"),
		DepartmentID:            p.uintPtr("departmentId"),
		CreatedAfter:            p.time("createdAfter"),
		CreatedBefore:           p.time("createdBefore"),
		DueBefore:               p.time("dueBefore"),
		IncludeDeleted:          p.bool("includeDeleted"),
		Page:                    p.int("page"),
		PerPage:                 p.int("perPage"),
		Sort:                    p.get("sort"),
	}

	if raw := p.get("documentType"); raw != "" {
		t := models.DocumentType(raw)
		if !t.Valid() {
			p.fail(fmt.Errorf("documentType: unknown value %q", raw))
		} else {
			f.DocumentType = &t
		}
	}
	if raw := p.get("status"); raw != "" {
		s := models.DocumentStatus(raw)
		if !s.Valid() {
			p.fail(fmt.Errorf("status: unknown value %q", raw))
		} else {
			f.Status = &s
		}
	}

	return f, p.err()
}

// DocumentHandler serves GET, PATCH and DELETE on /documents/{id}.
func DocumentHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logArgs := logArgsFor(r)

		id, err := idParam(r)
		if err != nil {
			respondBadRequest(w, err)
			return
		}
		logArgs = append(logArgs, "document_id", id)

		switch r.Method {
		case http.MethodGet:
			doc, err := srv.Engine.Query.GetDocument(r.Context(), id)
			if err != nil {
				respondError(srv, w, err, logArgs)
				return
			}
			respondJSON(w, http.StatusOK, doc)

		case http.MethodPatch:
			var patch map[string]any
			if err := decodeRequest(r, &patch); err != nil {
				respondBadRequest(w, fmt.Errorf("invalid request body: %w", err))
				return
			}

			doc, err := srv.Engine.Documents.UpdateDocument(r.Context(), id, patch)
			if err != nil {
				respondError(srv, w, err, logArgs)
				return
			}
			srv.Logger.Info("updated document", append(logArgs, "version", doc.Version)...)
			respondJSON(w, http.StatusOK, doc)

		case http.MethodDelete:
			if err := srv.Engine.Documents.DeleteDocument(r.Context(), id); err != nil {
				respondError(srv, w, err, logArgs)
				return
			}
			srv.Logger.Info("deleted document", logArgs...)
			w.WriteHeader(http.StatusNoContent)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

// DocumentRegisterHandler numbers a draft document.
func DocumentRegisterHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logArgs := logArgsFor(r)

		id, err := idParam(r)
		if err != nil {
			respondBadRequest(w, err)
			return
		}

		doc, err := srv.Engine.Documents.RegisterDocument(r.Context(), id)
		if err != nil {
			respondError(srv, w, err, append(logArgs, "document_id", id))
			return
		}

		srv.Logger.Info("registered document",
			append(logArgs,
				"document_id", id,
				"formatted_number", derefString(doc.FormattedNumber),
			)...)
		respondJSON(w, http.StatusOK, doc)
	})
}

// DocumentRouteHandler applies a workflow action to a document.
func DocumentRouteHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logArgs := logArgsFor(r)

		id, err := idParam(r)
		if err != nil {
			respondBadRequest(w, err)
			return
		}

		var req DocumentRoutePostRequest
		if err := decodeRequest(r, &req); err != nil {
			respondBadRequest(w, fmt.Errorf("invalid request body: %w", err))
			return
		}

		doc, record, err := srv.Engine.Workflow.RouteDocument(r.Context(), registry.RouteRequest{
			DocumentID:         id,
			Action:             req.Action,
			ActingUserID:       req.ActingUserID,
			ActingDepartmentID: req.ActingDepartmentID,
			ToUserID:           req.ToUserID,
			ToDepartmentID:     req.ToDepartmentID,
			Resolution:         req.Resolution,
			Notes:              req.Notes,
		})
		if err != nil {
			respondError(srv, w, err, append(logArgs, "document_id", id, "action", req.Action))
			return
		}

		respondJSON(w, http.StatusOK, DocumentRoutePostResponse{Document: doc, Record: record})
	})
}

// DocumentCancelHandler archives a document with an optional note.
func DocumentCancelHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logArgs := logArgsFor(r)

		id, err := idParam(r)
		if err != nil {
			respondBadRequest(w, err)
			return
		}

		var req DocumentCancelPostRequest
		if err := decodeOptionalRequest(r, &req); err != nil {
			respondBadRequest(w, fmt.Errorf("invalid request body: %w", err))
			return
		}

		doc, err := srv.Engine.Documents.CancelDocument(r.Context(), id, req.Notes)
		if err != nil {
			respondError(srv, w, err, append(logArgs, "document_id", id))
			return
		}

		srv.Logger.Info("cancelled document", append(logArgs, "document_id", id)...)
		respondJSON(w, http.StatusOK, doc)
	})
}

// DocumentHistoryHandler returns the workflow records of a document.
func DocumentHistoryHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r)
		if err != nil {
			respondBadRequest(w, err)
			return
		}

		history, err := srv.Engine.Query.GetHistory(r.Context(), id)
		if err != nil {
			respondError(srv, w, err, append(logArgsFor(r), "document_id", id))
			return
		}
		if history == nil {
			history = []models.WorkflowRecord{}
		}

		respondJSON(w, http.StatusOK, DocumentHistoryGetResponse{DocumentID: id, History: history})
	})
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
