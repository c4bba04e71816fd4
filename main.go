package main

import (
	"compress/gzip"
	"context"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
)

func disableCaching(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Cache-Control", "no-cache")

		next.ServeHTTP(w, r)
	})
}

// shouldCompress determines if a content type should be gzip compressed
func shouldCompress(contentType string) bool {
	compressiblePrefixes := []string{
		"text/",
		"application/json",
	}
	for _, prefix := range compressiblePrefixes {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}

// responseWriter wraps http.ResponseWriter to handle conditional gzip compression
type responseWriter struct {
	http.ResponseWriter
	gz         *gzip.Writer
	acceptGzip bool
	headerSent bool
}

// WriteHeader checks content type and sets up compression if appropriate
func (w *responseWriter) WriteHeader(statusCode int) {
	if w.headerSent {
		return
	}
	w.headerSent = true

	contentType := w.Header().Get("Content-Type")
	if contentType != "" && shouldCompress(contentType) && w.acceptGzip {
		w.gz = gzip.NewWriter(w.ResponseWriter)
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length")
	}

	w.ResponseWriter.WriteHeader(statusCode)
}

// Write writes to gzip writer if it exists, otherwise to original writer
func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.headerSent {
		w.WriteHeader(http.StatusOK)
	}

	if w.gz != nil {
		return w.gz.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

// Flush flushes both gzip and response writer
func (w *responseWriter) Flush() {
	if w.gz != nil {
		w.gz.Flush()
	}
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Close closes the gzip writer if it exists
func (w *responseWriter) Close() error {
	if w.gz != nil {
		return w.gz.Close()
	}
	return nil
}

// compress adds gzip compression to compressible responses
func compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &responseWriter{
			ResponseWriter: w,
			acceptGzip:     strings.Contains(r.Header.Get("Accept-Encoding"), "gzip"),
		}
		defer wrapped.Close()

		next.ServeHTTP(wrapped, r)
	})
}

func main() {
	fv := registerFlags(flag.CommandLine)
	flag.Parse()

	// Set up logging to both stdout and file
	logFile, err := os.OpenFile("werewolf.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		log.Fatal("Failed to open log file:", err)
	}
	defer logFile.Close()
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))

	cfg, err := loadConfig(*fv.configPath)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	fv.applyTo(flag.CommandLine, &cfg)
	if cfg.Dev {
		cfg.LogDebug = true
	}
	if err := cfg.validate(); err != nil {
		log.Fatal("Invalid config:", err)
	}

	if err := InitAppLogger(cfg.toLogConfig()); err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer CloseAppLogger()
	if appLogger.IsEnabled() {
		log.Println("Extended logging enabled")
	}

	ctx := context.Background()
	shutdown, err := setupTracing(ctx, cfg.OTelEndpoint)
	if err != nil {
		log.Fatal("Failed to set up tracing:", err)
	}
	defer shutdown(ctx)

	store, err := OpenStore(cfg.DB)
	if err != nil {
		log.Fatal("Failed to open database:", err)
	}
	defer store.Close()
	appLogger.AttachDB(store.DB())
	LogDBState("after initDB")

	hub := newHub()
	hub.start()
	defer hub.stop()

	session, err := NewSession(SessionOptions{
		LogDir:      cfg.GameLogDir,
		ReplayFile:  cfg.ReplayFile,
		CountTokens: cfg.AuditTokenCounts,
		Bind:        newDeciderFactory(ctx, cfg, hub),
		Retry:       cfg.retryPolicy(),
		Store:       store,
	})
	if err != nil {
		log.Fatal("Failed to start session:", err)
	}
	defer session.Close()
	if session.Replaying() {
		log.Printf("Replaying %s", cfg.ReplayFile)
	}

	srv := newServer(session, hub, cfg.Game)
	log.Printf("Server starting on %s (session %s)", cfg.Addr, session.ID)
	log.Fatal(http.ListenAndServe(cfg.Addr, srv.routes(appLogger)))
}
