package httpapi

import (
	"embed"
	"io/fs"
	"net/http"
)

// The embedded console under /ui/ is a single-page dev client for watching
// documents stream in.
//
//go:embed static/*
var embeddedStatic embed.FS

func newStaticHandler() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		return http.NotFoundHandler()
	}
	return http.FileServer(http.FS(sub))
}
