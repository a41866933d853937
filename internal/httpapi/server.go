// Package httpapi exposes the document assistant over a JSON HTTP API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"docqa/internal/answer"
	"docqa/internal/domain"
	"docqa/internal/extract"
	"docqa/internal/keyword"
	"docqa/internal/service"
)

const maxUploadBytes = 32 << 20

// Backend is the part of the application service the API serves.
type Backend interface {
	IngestUpload(ctx context.Context, name, text string) (service.IngestedDocument, error)
	Ask(ctx context.Context, question string) (*answer.Answer, error)
	Search(ctx context.Context, query string, k int, threshold float64) ([]domain.Result, error)
	Keyword(query string, k int) ([]keyword.Hit, error)
	Summarize(ctx context.Context, kind string) (*answer.Summary, error)
	Statistics(ctx context.Context) (service.Stats, error)
	Rebuild(ctx context.Context) (int, error)
}

type Server struct {
	backend Backend
	mux     *http.ServeMux
}

func NewServer(backend Backend) *Server {
	s := &Server{backend: backend, mux: http.NewServeMux()}
	s.mux.HandleFunc("/api/health", s.healthHandler)
	s.mux.HandleFunc("/api/upload", s.uploadHandler)
	s.mux.HandleFunc("/api/ask", s.askHandler)
	s.mux.HandleFunc("/api/search", s.searchHandler)
	s.mux.HandleFunc("/api/keyword", s.keywordHandler)
	s.mux.HandleFunc("/api/summary", s.summaryHandler)
	s.mux.HandleFunc("/api/statistics", s.statisticsHandler)
	s.mux.HandleFunc("/api/rebuild", s.rebuildHandler)
	return s
}

// Handler returns the API handler with request logging.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.mux.ServeHTTP(w, r)
		log.Printf("%s %s (%v)", r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}

// ListenAndServe serves on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Printf("✓ Server running on http://%s", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

// POST /api/upload  multipart field "file", or a raw text body with ?name=
func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	var name, text string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing file field")
			return
		}
		defer file.Close()
		name = header.Filename
		text, err = extract.Reader(name, file)
		if err != nil {
			writeServiceError(w, err)
			return
		}
	} else {
		name = r.URL.Query().Get("name")
		if name == "" {
			name = "upload.txt"
		}
		var err error
		if text, err = extract.Reader(name, r.Body); err != nil {
			writeServiceError(w, err)
			return
		}
	}

	doc, err := s.backend.IngestUpload(r.Context(), name, text)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "Document processed successfully",
		"filename":     doc.ID,
		"chunks_added": doc.Chunks,
	})
}

type askRequest struct {
	Question string `json:"question"`
}

// POST /api/ask  { "question": "..." }
func (s *Server) askHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	ans, err := s.backend.Ask(r.Context(), req.Question)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

type searchRequest struct {
	Query     string   `json:"query"`
	TopK      int      `json:"top_k"`
	Threshold *float64 `json:"threshold"`
}

type searchResult struct {
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Similarity float64 `json:"similarity"`
}

// POST /api/search  { "query": "...", "top_k": 3, "threshold": 0.7 }
func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	threshold := -1.0
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	results, err := s.backend.Search(r.Context(), req.Query, req.TopK, threshold)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]searchResult, len(results))
	for i, res := range results {
		out[i] = searchResult{
			DocumentID: res.Chunk.DocumentID,
			ChunkIndex: res.Chunk.Index,
			Text:       res.Chunk.Text,
			Start:      res.Chunk.Start,
			End:        res.Chunk.End,
			Similarity: res.Similarity,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": req.Query, "results": out})
}

// GET /api/keyword?q=...&k=10
func (s *Server) keywordHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query().Get("q")
	k, _ := strconv.Atoi(r.URL.Query().Get("k"))
	hits, err := s.backend.Keyword(q, k)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "hits": hits})
}

type summaryRequest struct {
	Kind string `json:"summary_type"`
}

// POST /api/summary  { "summary_type": "brief" | "comprehensive" | "detailed" }
func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req summaryRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}
	sum, err := s.backend.Summarize(r.Context(), req.Kind)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) statisticsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	st, err := s.backend.Statistics(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) rebuildHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	n, err := s.backend.Rebuild(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chunks_indexed": n})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrConfiguration):
		status = http.StatusBadRequest
	case errors.Is(err, extract.ErrUnsupported):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, domain.ErrDocumentExists):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrEmbeddingUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		log.Printf("Error: %v", err)
	}
	writeError(w, status, err.Error())
}
