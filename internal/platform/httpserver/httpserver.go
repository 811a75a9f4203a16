package httpserver

import (
	"net/http"
	"time"
)

// New builds the API server. Disclosure responses carry sealed payloads of a
// few kilobytes at most, so short read and write deadlines are safe here.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
