// Package edge decides which front-end bundle serves a path: the Flutter app
// under /app, the blog SPA under /blog/, or nothing.
package edge

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

type Target int

const (
	PassThrough Target = iota
	App
	Blog
)

func (t Target) String() string {
	switch t {
	case App:
		return "app"
	case Blog:
		return "blog"
	}
	return "passthrough"
}

const (
	AppEntry  = "/app/index.html"
	BlogEntry = "/blog/index.html"
)

// Rewrite returns the path to serve for p and which bundle it belongs to.
// Paths naming a concrete file (last segment has an extension) are served as is.
func Rewrite(p string) (string, Target) {
	switch {
	case p == "/app" || strings.HasPrefix(p, "/app/"):
		if isStaticFile(p) {
			return p, App
		}
		return AppEntry, App
	case strings.HasPrefix(p, "/blog/"):
		if isStaticFile(p) {
			return p, Blog
		}
		return BlogEntry, Blog
	}
	return p, PassThrough
}

func isStaticFile(p string) bool {
	return path.Ext(path.Base(p)) != ""
}

// Middleware rewrites app and blog routes to their entry documents before
// calling next. Other paths reach next untouched.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rewritten, target := Rewrite(r.URL.Path)
		if target == PassThrough || rewritten == r.URL.Path {
			next.ServeHTTP(w, r)
			return
		}
		r2 := r.Clone(r.Context())
		r2.URL.Path = rewritten
		r2.URL.RawPath = ""
		next.ServeHTTP(w, r2)
	})
}

// StaticHandler serves the two bundles from disk: /app/* from appDir and
// /blog/* from blogDir. Entry documents are never cached.
func StaticHandler(appDir, blogDir string) http.Handler {
	app := http.StripPrefix("/app/", http.FileServer(http.Dir(appDir)))
	blog := http.StripPrefix("/blog/", http.FileServer(http.Dir(blogDir)))

	return Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == AppEntry || r.URL.Path == BlogEntry {
			w.Header().Set("Cache-Control", "no-cache")
		}
		switch {
		case strings.HasPrefix(r.URL.Path, "/app/"):
			serveFile(w, r, appDir, strings.TrimPrefix(r.URL.Path, "/app/"), app)
		case strings.HasPrefix(r.URL.Path, "/blog/"):
			serveFile(w, r, blogDir, strings.TrimPrefix(r.URL.Path, "/blog/"), blog)
		default:
			http.NotFound(w, r)
		}
	}))
}

// serveFile serves index.html through ServeContent: http.ServeFile and
// http.FileServer both redirect paths ending in /index.html.
func serveFile(w http.ResponseWriter, r *http.Request, dir, name string, fs http.Handler) {
	if name != "index.html" {
		fs.ServeHTTP(w, r)
		return
	}
	f, err := os.Open(filepath.Join(dir, "index.html"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		http.Error(w, "stat entry document", http.StatusInternalServerError)
		return
	}
	http.ServeContent(w, r, "index.html", fi.ModTime(), f)
}
