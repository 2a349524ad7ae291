package server

import (
	"encoding/json"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"bootseq/internal/artifact"
	"bootseq/internal/metrics"
	"bootseq/internal/middleware"
)

// AppInfo is what the in-process app reports about the artifact it serves.
type AppInfo struct {
	Name         string
	Version      string
	ArtifactID   string
	Base         string
	Requirements []artifact.Requirement
}

type RouterDeps struct {
	Info        AppInfo
	Files       fs.FS
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	CORSOrigins []string
}

// NewRouter builds the in-process app: service info on "/", "/health",
// "/metrics", the Describe RPC and the materialized tree under "/app/".
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.Instrument(d.Logger, d.Metrics))
	r.Use(middleware.CORS(d.CORSOrigins))

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"app_name": d.Info.Name,
			"version":  d.Info.Version,
			"message":  "served by bootseq",
		})
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	path, h := NewDescribeHandler(d.Info).Handler()
	r.Handle(path, h)

	if d.Files != nil {
		files := http.StripPrefix(artifact.Workdir, http.FileServer(http.FS(d.Files)))
		r.Handle(artifact.Workdir+"/*", files)
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
