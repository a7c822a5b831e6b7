package httpapi

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static
var uiFiles embed.FS

// uiHandler serves the embedded chat page. The assets ship inside the binary,
// so browsers are told to revalidate instead of keeping a stale page across
// upgrades.
func uiHandler() http.Handler {
	root, err := fs.Sub(uiFiles, "static")
	if err != nil {
		// The embed directive fixes the directory at build time.
		panic(err)
	}
	files := http.FileServer(http.FS(root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		files.ServeHTTP(w, r)
	})
}
