// Package assets serves the embedded landing page and its static files.
// Files live under static/ and are compiled into the binary via go:embed.
package assets

import (
	"embed"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"
)

//go:embed all:static
var staticFS embed.FS

// mimeFromExt returns the Content-Type for a static file extension.
func mimeFromExt(ext string) string {
	switch ext {
	case ".js":
		return "application/javascript"
	case ".css":
		return "text/css; charset=utf-8"
	case ".html":
		return "text/html; charset=utf-8"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}

func staticRoot() fs.FS {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic("assets: failed to create sub filesystem: " + err.Error())
	}
	return sub
}

// IndexHTML returns the landing page.
func IndexHTML() []byte {
	data, err := fs.ReadFile(staticRoot(), "index.html")
	if err != nil {
		panic("assets: index.html missing from embed: " + err.Error())
	}
	return data
}

// IndexHandler serves the landing page.
func IndexHandler() http.Handler {
	page := IndexHTML()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(page)
	})
}

// FileServer serves embedded files from static/ with no-cache headers.
// The handler expects paths relative to the static root (strip /static/ before calling).
func FileServer() http.Handler {
	fileServer := http.FileServer(http.FS(staticRoot()))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ext := strings.ToLower(path.Ext(r.URL.Path))
		if ext != "" {
			w.Header().Set("Content-Type", mimeFromExt(ext))
		}
		w.Header().Set("Cache-Control", "no-cache")

		fileServer.ServeHTTP(w, r)
	})
}
