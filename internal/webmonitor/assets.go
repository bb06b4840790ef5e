package webmonitor

import (
	"net/http"
	"os"
	"path/filepath"
)

// assetHandler serves flat files from the build directory, falling back to
// the source assets directory. Subdirectories are never served.
type assetHandler struct {
	dirs []string
}

func newAssetHandler(buildDir, assetsDir string) *assetHandler {
	return &assetHandler{dirs: []string{buildDir, assetsDir}}
}

func (h *assetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(r.URL.Path)
	if filename == "." || filename == "/" || filename == ".." {
		http.NotFound(w, r)
		return
	}

	for _, dir := range h.dirs {
		if dir == "" {
			continue
		}
		path := filepath.Join(dir, filename)
		if fileExists(path) {
			w.Header().Set("Cache-Control", "no-cache")
			http.ServeFile(w, r, path)
			return
		}
	}
	http.NotFound(w, r)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
