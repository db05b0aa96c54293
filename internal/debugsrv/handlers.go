package debugsrv

import (
	"encoding/json"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"

	"github.com/gobwas/glob"

	"cadence/internal/runner"
	"cadence/internal/runtime/supervisor"
	"cadence/internal/storage"
	logx "cadence/pkg/logx"
)

// Jobs is the slice of the runner the debug server needs.
type Jobs interface {
	Snapshot() runner.Snapshot
	History(name string) ([]runner.HistoryItem, error)
	Pause(name string) error
	Resume(name string) error
	Cancel(name string) error
}

// Deps are the data sources behind the endpoints. Nil fields disable their
// routes.
type Deps struct {
	Jobs       Jobs
	Store      storage.Store
	Metrics    http.Handler
	Goroutines func() []supervisor.Stats
}

const maxRunsLimit = 500

// Handler builds the debug mux:
//
//	GET  /healthz
//	GET  /metrics
//	GET  /jobs?match=<glob>
//	GET  /jobs/{name}/history
//	POST /jobs/{name}/{pause|resume|cancel}
//	GET  /runs?job=<name>&limit=<n>
//	GET  /goroutines
//	     /debug/pprof/ (when cfg.Pprof)
func Handler(cfg Config, deps Deps, log logx.Logger) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(cfg.Token, h) }

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", wrap(deps.Metrics.ServeHTTP))
	}
	if deps.Jobs != nil {
		mux.HandleFunc("GET /jobs", wrap(jobsHandler(deps.Jobs)))
		mux.HandleFunc("GET /jobs/{name}/history", wrap(historyHandler(deps.Jobs)))
		mux.HandleFunc("POST /jobs/{name}/{op}", wrap(controlHandler(deps.Jobs, log)))
	}
	if deps.Store != nil {
		mux.HandleFunc("GET /runs", wrap(runsHandler(deps.Store)))
	}
	if deps.Goroutines != nil {
		mux.HandleFunc("GET /goroutines", wrap(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, deps.Goroutines())
		}))
	}
	if cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", wrap(hpprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", wrap(hpprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", wrap(hpprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", wrap(hpprof.Trace))
	}
	return mux
}

func jobsHandler(jobs Jobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := jobs.Snapshot()
		if pattern := strings.TrimSpace(r.URL.Query().Get("match")); pattern != "" {
			g, err := glob.Compile(pattern)
			if err != nil {
				http.Error(w, "invalid match pattern: "+err.Error(), http.StatusBadRequest)
				return
			}
			kept := snap.Jobs[:0:0]
			for _, j := range snap.Jobs {
				if g.Match(j.Name) {
					kept = append(kept, j)
				}
			}
			snap.Jobs = kept
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func historyHandler(jobs Jobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hist, err := jobs.History(r.PathValue("name"))
		if errors.Is(err, runner.ErrUnknownJob) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, hist)
	}
}

func controlHandler(jobs Jobs, log logx.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, op := r.PathValue("name"), r.PathValue("op")
		var err error
		switch op {
		case "pause":
			err = jobs.Pause(name)
		case "resume":
			err = jobs.Resume(name)
		case "cancel":
			err = jobs.Cancel(name)
		default:
			http.Error(w, "unknown operation "+strconv.Quote(op), http.StatusNotFound)
			return
		}
		if errors.Is(err, runner.ErrUnknownJob) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		log.Info("job control", logx.String("job", name), logx.String("op", op), logx.String("remote", r.RemoteAddr))
		w.WriteHeader(http.StatusNoContent)
	}
}

func runsHandler(store storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 50
		if raw := q.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = min(n, maxRunsLimit)
		}
		runs, err := store.RecentRuns(r.Context(), q.Get("job"), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if runs == nil {
			runs = []storage.Run{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		// Accept either "Authorization: Bearer <token>" or ?token=<token>.
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h(w, r)
			return
		}
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
