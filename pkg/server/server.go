package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"safelink/pkg/config"
	"safelink/pkg/model"
)

// MaxRequestBodySize limits POST bodies to 1KB; a URL never needs more.
const MaxRequestBodySize = 1024

const statusMessage = "SafeLink API is running!"

// Extractor produces feature reports.
type Extractor interface {
	Extract(ctx context.Context, rawURL string) *config.Report
}

type Server struct {
	ext     Extractor
	clf     model.Classifier
	origins []string
	log     zerolog.Logger
}

func New(ext Extractor, clf model.Classifier, origins []string, log zerolog.Logger) *Server {
	return &Server{ext: ext, clf: clf, origins: origins, log: log}
}

type urlRequest struct {
	URL string `json:"url"`
}

type detectResponse struct {
	Result      string  `json:"result"`
	Probability float64 `json:"probability"`
}

type featuresResponse struct {
	URL      string             `json:"url"`
	Features map[string]float64 `json:"features"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler returns the routed handler wrapped with CORS and security headers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome)
	mux.HandleFunc("/detect", s.handleDetect)
	mux.HandleFunc("/api/detect", s.handleDetect)
	mux.HandleFunc("/features", s.handleFeatures)
	mux.HandleFunc("/api/features", s.handleFeatures)
	return securityHeaders(s.cors(mux))
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Not found"})
		return
	}
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": statusMessage})
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	rawURL, ok := s.readURL(w, r)
	if !ok {
		return
	}
	report := s.ext.Extract(r.Context(), rawURL)

	proba, err := s.clf.PredictProba(report.Vector)
	if err != nil {
		s.log.Error().Err(err).Str("url", rawURL).Msg("classifier failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	label, err := s.clf.Predict(report.Vector)
	if err != nil {
		s.log.Error().Err(err).Str("url", rawURL).Msg("classifier failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	s.log.Info().
		Str("id", report.ID).
		Str("url", report.URL).
		Str("result", label.String()).
		Int("fallbacks", report.FallbackCount()).
		Dur("took", report.Duration).
		Msg("detect")
	writeJSON(w, http.StatusOK, detectResponse{Result: label.String(), Probability: proba[1]})
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	rawURL, ok := s.readURL(w, r)
	if !ok {
		return
	}
	report := s.ext.Extract(r.Context(), rawURL)
	writeJSON(w, http.StatusOK, featuresResponse{URL: rawURL, Features: report.Features()})
}

// readURL handles preflight and decodes the {"url": ...} body. It writes the
// response itself when it returns false.
func (s *Server) readURL(w http.ResponseWriter, r *http.Request) (string, bool) {
	switch r.Method {
	case http.MethodOptions:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return "", false
	case http.MethodPost:
	default:
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
		return "", false
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	var req urlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "Request body too large"})
			return "", false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return "", false
	}
	if strings.TrimSpace(req.URL) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No URL provided"})
		return "", false
	}
	return req.URL, true
}

// cors allows the browser extension and configured origins.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Add("Vary", "Origin")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, pattern := range s.origins {
		if pattern == "*" || pattern == origin {
			return true
		}
		if ok, err := path.Match(pattern, origin); err == nil && ok {
			return true
		}
	}
	return false
}

// securityHeaders adds security headers to responses
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
