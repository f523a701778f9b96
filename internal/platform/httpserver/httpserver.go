package httpserver

import (
	"net/http"
	"time"

	"kinship/internal/platform/config"
)

// New builds an HTTP server with sane defaults for this project.
func New(cfg config.Server, handler http.Handler) *http.Server {
	readHeader := cfg.ReadHeaderTimeout
	if readHeader <= 0 {
		readHeader = 5 * time.Second
	}
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeader,
		ReadTimeout:       30 * time.Second,
		// Provider calls are bounded at PROVIDER_TIMEOUT; leave headroom for the response.
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}
}
