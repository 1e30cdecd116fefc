package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stenstromen/wikiexport/logging"
	"github.com/stenstromen/wikiexport/types"
	"go.uber.org/zap"
)

var repoPath = regexp.MustCompile(`^/([^/]+)/([^/]+)(/wiki)?(/.*)?$`)

type server struct {
	logger   *zap.Logger
	requests *prometheus.CounterVec
	registry *prometheus.Registry
	limiter  *ipLimiter
}

// newServer builds the mock. exportsPerMinute caps /export per client
// address; zero or less disables the cap.
func newServer(logger *zap.Logger, exportsPerMinute int) *server {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wikiexport_mock_requests_total",
			Help: "Requests served by the mock export server",
		},
		[]string{"status"},
	)
	registry.MustRegister(requests)
	return &server{
		logger:   logger,
		requests: requests,
		registry: registry,
		limiter:  newIPLimiter(exportsPerMinute),
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"Hello": "World"})
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.With(s.rateLimit).Post("/export", s.handleExport)
	return r
}

func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-Id", uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req types.ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.reply(w, http.StatusBadRequest, types.ErrorBody{Error: "BAD_REQUEST", Message: "Invalid JSON"})
		return
	}

	user, repo, ok := parseWikiURL(req.WikiURL)
	if !ok || !req.DocType.Known() {
		s.logger.Warn("rejecting export", zap.String("wiki_url", req.WikiURL), zap.String("doc_type", string(req.DocType)))
		s.reply(w, http.StatusUnprocessableEntity, types.ErrorBody{Error: "INVALID_INPUT", Message: "Invalid request parameters."})
		return
	}

	// The real backend reports export failures as JSON on a 200.
	if repo == "fail" {
		s.reply(w, http.StatusOK, types.ErrorBody{Error: "EXPORT_FAILED", Message: "An error occurred. Please try again."})
		return
	}

	content := []byte(fmt.Sprintf("Cloned from: https://github.com/%s/%s.wiki.git\n\n# Home.md\n\nfake wiki content\n", user, repo))
	filename := "output." + req.DocType.Extension()

	w.Header().Set("Content-Type", req.DocType.MediaType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
	s.requests.WithLabelValues(strconv.Itoa(http.StatusOK)).Inc()
	s.logger.Info("export served", zap.String("user", user), zap.String("repo", repo), zap.String("doc_type", string(req.DocType)))
}

func (s *server) reply(w http.ResponseWriter, status int, body types.ErrorBody) {
	writeJSON(w, status, body)
	s.requests.WithLabelValues(strconv.Itoa(status)).Inc()
}

func parseWikiURL(candidate string) (string, string, bool) {
	u, err := url.Parse(strings.ToLower(strings.TrimSpace(candidate)))
	if err != nil || u.Scheme == "" || u.Host != "github.com" {
		return "", "", false
	}
	m := repoPath.FindStringSubmatch(u.Path)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8000"
	}

	logger := logging.New(logging.Options{Debug: os.Getenv("DEBUG") == "true"})
	defer logger.Sync()

	exportsPerMinute := defaultExportsPerMinute
	if v := os.Getenv("EXPORTS_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			logger.Fatal("EXPORTS_PER_MINUTE is not a number", zap.String("value", v), zap.Error(err))
		}
		exportsPerMinute = n
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           newServer(logger, exportsPerMinute).routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("mock export server starting", zap.String("port", port), zap.Int("exports_per_minute", exportsPerMinute))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("mock export server failed", zap.Error(err))
	}
}
