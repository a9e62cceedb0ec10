package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

// Result is the tagged outcome of an operation: either a status + body or an
// error whose kind picks the status.
type Result struct {
	Status int
	Body   any
	Err    error
}

func ok(body any) Result      { return Result{Status: http.StatusOK, Body: body} }
func created(body any) Result { return Result{Status: http.StatusCreated, Body: body} }
func fail(err error) Result   { return Result{Err: err} }

// Operation handles one named command.
type Operation func(r *http.Request) Result

// Route binds a method + path pattern to a command name.
type Route struct {
	Method string
	Path   string
	Name   string
}

type CommandTable map[string]Operation

type errorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// Mount registers every route on mux. A route naming an unknown command is a
// programming error and panics at startup.
func Mount(mux *http.ServeMux, routes []Route, table CommandTable, log *slog.Logger) {
	for _, rt := range routes {
		op, found := table[rt.Name]
		if !found {
			panic("api: no operation registered for " + rt.Name)
		}
		name := rt.Name
		mux.HandleFunc(rt.Method+" "+rt.Path, func(w http.ResponseWriter, r *http.Request) {
			writeResult(w, log, name, op(r))
		})
	}
}

func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindInsufficientAvailability, domain.KindInvalidTransition:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeResult(w http.ResponseWriter, log *slog.Logger, op string, res Result) {
	if res.Err == nil {
		writeJSON(w, log, res.Status, res.Body)
		return
	}

	status := statusFor(res.Err)
	body := errorResponse{Error: "internal error"}
	var de *domain.Error
	if errors.As(res.Err, &de) {
		body = errorResponse{Error: de.Message, Details: de.Details}
	}
	if status >= http.StatusInternalServerError {
		log.Error("operation failed", "op", op, "status", status, "err", res.Err)
	}
	writeJSON(w, log, status, body)
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("writeJSON error", "err", err)
	}
}

const maxBodyBytes = 1 << 20

func decodeBody(r *http.Request, dst any) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return domain.NewValidationError("malformed JSON body", []string{err.Error()})
	}
	return nil
}

type healthResponse struct {
	Status string `json:"status"`
}
