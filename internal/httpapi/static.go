package httpapi

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
)

// staticHandler serves the web client. Unknown paths get index.html so client-side
// routes resolve.
type staticHandler struct {
	root  fs.FS
	files http.Handler
}

func newStaticHandler(dir string) http.Handler {
	if dir == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusNotFound, errorCodeNotFound, "not found")
		})
	}
	root := os.DirFS(dir)
	return &staticHandler{root: root, files: http.FileServerFS(root)}
}

func (s *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		writeError(w, http.StatusNotFound, errorCodeNotFound, "no route for "+r.Method+" "+r.URL.Path)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, errorCodeInvalidRequest, "method not allowed")
		return
	}

	name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	if name == "" {
		name = "."
	}
	info, err := fs.Stat(s.root, name)
	if err == nil && (!info.IsDir() || hasIndex(s.root, name)) {
		s.files.ServeHTTP(w, r)
		return
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		writeError(w, http.StatusInternalServerError, errorCodeRuntime, err.Error())
		return
	}

	if _, err := fs.Stat(s.root, "index.html"); err != nil {
		writeError(w, http.StatusNotFound, errorCodeNotFound, "not found")
		return
	}
	http.ServeFileFS(w, r, s.root, "index.html")
}

func hasIndex(root fs.FS, dir string) bool {
	_, err := fs.Stat(root, path.Join(dir, "index.html"))
	return err == nil
}

// noDirListing hides directory indexes of the upload tree.
func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			writeError(w, http.StatusNotFound, errorCodeNotFound, "not found")
			return
		}
		next.ServeHTTP(w, r)
	})
}
