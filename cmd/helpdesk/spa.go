package main

import (
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"

	helpdeskui "github.com/d9705996/helpdesk/ui"
)

// registerSPA mounts the embedded browser client.
// Everything outside /api/, /metrics and /ping is served from ui/dist.
// Unknown routes fall back to index.html to support client-side routing.
func registerSPA(mux *http.ServeMux, log *slog.Logger) {
	sub, err := fs.Sub(helpdeskui.FS, "dist")
	if err != nil {
		log.Error("embed ui/dist: sub failed", "err", err)
		return
	}
	mux.Handle("/", spaHandler{files: sub, fs: http.FileServer(http.FS(sub))})
}

// spaHandler serves static files and falls back to index.html for unknown paths
// (enabling client-side routing in the SPA).
type spaHandler struct {
	files fs.FS
	fs    http.Handler
}

func (s spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	if name != "" {
		if _, err := fs.Stat(s.files, name); err != nil {
			r2 := r.Clone(r.Context())
			r2.URL.Path = "/"
			s.fs.ServeHTTP(w, r2)
			return
		}
	}
	s.fs.ServeHTTP(w, r)
}
