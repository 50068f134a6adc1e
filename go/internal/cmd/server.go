package main

import (
	"fmt"
	"net/http"
	"time"
)

func setupServer(handler http.Handler) *http.Server {
	// No write timeout: purchases block until chain confirmation and the
	// purchase pipeline enforces its own bound.
	return &http.Server{
		Addr:         fmt.Sprintf(":%s", getEnv("PORT", "8080")),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
}
