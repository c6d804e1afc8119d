package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-multierror"

	"github.com/parishworks/registratura/internal/server"
	"github.com/parishworks/registratura/pkg/registry"
)

// maxRequestBytes bounds request bodies.
const maxRequestBytes = 1 << 20

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const codeBadRequest = "bad_request"

var errEmptyBody = errors.New("request body is empty")

// decodeRequest decodes the JSON request body into v, rejecting unknown fields.
func decodeRequest(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

// decodeOptionalRequest is decodeRequest that accepts an empty body.
func decodeOptionalRequest(r *http.Request, v any) error {
	err := decodeRequest(r, v)
	if errors.Is(err, errEmptyBody) {
		return nil
	}
	return err
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func respondBadRequest(w http.ResponseWriter, err error) {
	respondJSON(w, http.StatusBadRequest, ErrorResponse{
		Error: ErrorBody{Code: codeBadRequest, Message: err.Error()},
	})
}

// respondError writes err with the status its registry code maps to. Errors
// without a code are logged and reported as internal errors without detail.
func respondError(srv server.Server, w http.ResponseWriter, err error, logArgs []any) {
	code := registry.CodeOf(err)
	status := statusForCode(code)

	if status >= http.StatusInternalServerError {
		srv.Logger.Error("request failed",
			append([]any{"error", err}, logArgs...)...)
	} else {
		srv.Logger.Debug("request rejected",
			append([]any{"error", err, "code", code}, logArgs...)...)
	}

	msg := err.Error()
	if code == "" {
		code = "internal_error"
		msg = "internal server error"
	}
	respondJSON(w, status, ErrorResponse{
		Error: ErrorBody{Code: string(code), Message: msg},
	})
}

func statusForCode(code registry.Code) int {
	switch code {
	case registry.CodeValidation:
		return http.StatusBadRequest
	case registry.CodeNotFound:
		return http.StatusNotFound
	case registry.CodeInvalidTransition,
		registry.CodeAlreadyRegistered,
		registry.CodeConfigurationInUse,
		registry.CodeConcurrentModification:
		return http.StatusConflict
	case registry.CodeAllocationFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// idParam parses the {id} URL parameter.
func idParam(r *http.Request) (uint, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return uint(id), nil
}

func logArgsFor(r *http.Request) []any {
	return []any{
		"method", r.Method,
		"path", r.URL.Path,
	}
}

// queryParser reads typed query parameters and collects every parse error.
type queryParser struct {
	values   map[string][]string
	location *time.Location
	errs     *multierror.Error
}

func newQueryParser(srv server.Server, r *http.Request) *queryParser {
	loc := time.UTC
	if srv.Config != nil && srv.Config.Registry != nil {
		loc = srv.Config.Registry.Location()
	}
	return &queryParser{values: r.URL.Query(), location: loc}
}

func (p *queryParser) get(key string) string {
	return strings.TrimSpace(p.first(key))
}

func (p *queryParser) first(key string) string {
	if v := p.values[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func (p *queryParser) uintPtr(key string) *uint {
	raw := p.get(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		p.fail(fmt.Errorf("%s: invalid unsigned integer %q", key, raw))
		return nil
	}
	u := uint(v)
	return &u
}

func (p *queryParser) intPtr(key string) *int {
	raw := p.get(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(fmt.Errorf("%s: invalid integer %q", key, raw))
		return nil
	}
	return &v
}

func (p *queryParser) int(key string) int {
	if v := p.intPtr(key); v != nil {
		return *v
	}
	return 0
}

func (p *queryParser) bool(key string) bool {
	raw := p.get(key)
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(fmt.Errorf("%s: invalid boolean %q", key, raw))
		return false
	}
	return v
}

// time parses dates in any format dateparse understands, in the registry
// time zone when the value carries none.
func (p *queryParser) time(key string) *time.Time {
	raw := p.get(key)
	if raw == "" {
		return nil
	}
	t, err := dateparse.ParseIn(raw, p.location)
	if err != nil {
		p.fail(fmt.Errorf("%s: invalid date %q", key, raw))
		return nil
	}
	return &t
}

func (p *queryParser) fail(err error) {
	p.errs = multierror.Append(p.errs, err)
}

func (p *queryParser) err() error {
	return p.errs.ErrorOrNil()
}
