// Package server is the HTTP transport: a single command endpoint backed by
// the dispatcher, a navigation-event endpoint fed by the page observer, and a
// health probe.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/fieldtrail/command"
	"github.com/hazyhaar/fieldtrail/kit"
	"github.com/hazyhaar/fieldtrail/model"
	"github.com/hazyhaar/fieldtrail/trail"
)

// Options configures the router.
type Options struct {
	Dispatcher *command.Dispatcher
	Machine    *trail.Machine
	Logger     *slog.Logger
}

// NewRouter builds the HTTP routes.
func NewRouter(opts Options) chi.Router {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Post("/api/command", func(w http.ResponseWriter, r *http.Request) {
		var req command.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}

		ctx := kit.WithTransport(r.Context(), "http")
		ctx = kit.WithTraceID(ctx, middleware.GetReqID(ctx))
		if u := opts.Machine.CurrentUser(); u != nil {
			ctx = kit.WithUserID(ctx, u.Username)
		}

		resp := opts.Dispatcher.Dispatch(ctx, req)
		writeJSON(w, statusFor(resp), resp)
	})

	// Page-load-completed events from the tracked viewports.
	r.Post("/api/events/visit", func(w http.ResponseWriter, r *http.Request) {
		var v model.PageVisit
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			writeError(w, 400, err)
			return
		}
		recorded := opts.Machine.RecordVisit(r.Context(), v)
		writeJSON(w, 200, map[string]bool{"recorded": recorded})
	})

	return r
}

// statusFor maps command error codes onto HTTP statuses. The envelope always
// carries the full error; the status is advisory for plain HTTP clients.
func statusFor(resp command.Response) int {
	if resp.Error == nil {
		return 200
	}
	switch resp.Error.Code {
	case "bad_request", "unknown_command":
		return 400
	case "auth_error":
		return 401
	case "not_found":
		return 404
	case "state_error":
		return 409
	case "remote_error":
		return 502
	default:
		return 500
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
