// Package chi exposes the training app pipelines over HTTP.
package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kaisha-ai/promptdojo/internal/domain"
	logpkg "github.com/kaisha-ai/promptdojo/internal/logger"
	"github.com/kaisha-ai/promptdojo/internal/repository/vectorindex"
	chatuc "github.com/kaisha-ai/promptdojo/internal/usecase/chat"
	minitestuc "github.com/kaisha-ai/promptdojo/internal/usecase/minitest"
	promptgenuc "github.com/kaisha-ai/promptdojo/internal/usecase/promptgen"
	raguc "github.com/kaisha-ai/promptdojo/internal/usecase/rag"
	reviewuc "github.com/kaisha-ai/promptdojo/internal/usecase/review"
)

// Server wires the usecase services into HTTP handlers. Responses use the
// {ok: true, ...} / {ok: false, error} envelope; stack traces are attached
// only when exposeStack is set (never in prod).
type Server struct {
	rag         *raguc.Service
	review      *reviewuc.Service
	minitest    *minitestuc.Service
	promptgen   *promptgenuc.Service
	chat        *chatuc.Service
	index       raguc.VectorIndex
	logger      *zap.Logger
	exposeStack bool
}

func NewServer(
	rag *raguc.Service,
	review *reviewuc.Service,
	minitest *minitestuc.Service,
	promptgen *promptgenuc.Service,
	chat *chatuc.Service,
	index raguc.VectorIndex,
	logger *zap.Logger,
	exposeStack bool,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		rag:         rag,
		review:      review,
		minitest:    minitest,
		promptgen:   promptgen,
		chat:        chat,
		index:       index,
		logger:      logger,
		exposeStack: exposeStack,
	}
}

// RegisterRoutes mounts all API routes on the given router. Middleware is
// the caller's concern.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Post("/api/rag/answer", s.handleRAGAnswer)
	r.Post("/api/vector/upsert", s.handleVectorUpsert)
	r.Post("/api/vector/upsert-text", s.handleVectorUpsertText)
	r.Post("/api/vector/query", s.handleVectorQuery)
	r.Post("/api/vector/suggest-titles", s.handleSuggestTitles)
	r.Post("/api/review", s.handleReview)
	r.Post("/api/minitest", s.handleMiniTest)
	r.Post("/api/prompt/generate", s.handlePromptGenerate)
	r.Post("/api/chat", s.handleChat)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
}

func (s *Server) handleRAGAnswer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
		TopK     int    `json:"topK"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Question == "" {
		s.writeFailure(w, http.StatusBadRequest, errors.New("question is required"))
		return
	}

	answer, err := s.rag.Answer(r.Context(), req.Question, req.TopK)
	if err != nil {
		s.writeDomainFailure(w, r, err)
		return
	}
	s.writeOK(w, map[string]any{
		"answer":  answer.Text,
		"sources": answer.Sources,
	})
}

// upsertVector accepts "values" as a compatibility alias for "vector".
type upsertVector struct {
	ID       string         `json:"id"`
	Vector   []float32      `json:"vector"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata"`
}

func (v upsertVector) toDomain() domain.Vector {
	values := v.Vector
	if len(values) == 0 {
		values = v.Values
	}
	return domain.Vector{ID: v.ID, Values: values, Metadata: v.Metadata}
}

func (s *Server) handleVectorUpsert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Vectors   []upsertVector `json:"vectors"`
		BatchSize int            `json:"batchSize"`
		Namespace string         `json:"namespace"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Vectors) == 0 {
		s.writeFailure(w, http.StatusBadRequest, errors.New("vectors are required"))
		return
	}

	vectors := make([]domain.Vector, len(req.Vectors))
	for i, v := range req.Vectors {
		vectors[i] = v.toDomain()
	}

	_, err := s.index.UpsertMany(r.Context(), vectors, vectorindex.UpsertOptions{
		BatchSize: req.BatchSize,
		Namespace: req.Namespace,
	})
	if err != nil {
		s.writeDomainFailure(w, r, err)
		return
	}
	s.writeOK(w, map[string]any{"upserted": len(vectors)})
}

func (s *Server) handleVectorUpsertText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID       string         `json:"id"`
		Text     string         `json:"text"`
		Metadata map[string]any `json:"metadata"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.ID == "" || req.Text == "" {
		s.writeFailure(w, http.StatusBadRequest, errors.New("id and text are required"))
		return
	}

	if err := s.rag.Ingest(r.Context(), req.ID, req.Text, req.Metadata); err != nil {
		s.writeDomainFailure(w, r, err)
		return
	}
	s.writeOK(w, map[string]any{"id": req.ID})
}

func (s *Server) handleVectorQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Vector          []float32 `json:"vector"`
		TopK            int       `json:"topK"`
		IncludeMetadata bool      `json:"includeMetadata"`
		IncludeVectors  bool      `json:"includeVectors"`
		Filter          string    `json:"filter"`
		Namespace       string    `json:"namespace"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Vector) == 0 {
		s.writeFailure(w, http.StatusBadRequest, errors.New("vector is required"))
		return
	}
	if req.TopK <= 0 {
		s.writeFailure(w, http.StatusBadRequest, errors.New("topK must be positive"))
		return
	}

	resp, err := s.index.Query(r.Context(), req.Vector, req.TopK, vectorindex.QueryOptions{
		Namespace:       req.Namespace,
		IncludeMetadata: req.IncludeMetadata,
		IncludeVectors:  req.IncludeVectors,
		Filter:          req.Filter,
	})
	if err != nil {
		s.writeDomainFailure(w, r, err)
		return
	}
	s.writeOK(w, map[string]any{"hits": vectorindex.NormalizeHits(resp)})
}

func (s *Server) handleSuggestTitles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string   `json:"text"`
		Tags []string `json:"tags"`
		TopK int      `json:"topK"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Text == "" && len(req.Tags) == 0 {
		s.writeFailure(w, http.StatusBadRequest, errors.New("text or tags are required"))
		return
	}

	titles, err := s.rag.SuggestTitles(r.Context(), req.Text, req.Tags, req.TopK)
	if err != nil {
		s.writeDomainFailure(w, r, err)
		return
	}
	s.writeOK(w, map[string]any{"titles": titles})
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scenario   string `json:"scenario"`
		UserPrompt string `json:"userPrompt"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.UserPrompt == "" {
		s.writeFailure(w, http.StatusBadRequest, errors.New("userPrompt is required"))
		return
	}

	result, err := s.review.GenerateReview(r.Context(), req.Scenario, req.UserPrompt)
	if err != nil {
		s.writeDomainFailure(w, r, err)
		return
	}
	s.writeOK(w, map[string]any{
		"aiOutput":    result.AIOutput,
		"evaluations": result.Evaluations,
	})
}

func (s *Server) handleMiniTest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TestName        string `json:"testName"`
		TrainingContent string `json:"trainingContent"`
		UserAnswer      string `json:"userAnswer"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.UserAnswer == "" {
		s.writeFailure(w, http.StatusBadRequest, errors.New("userAnswer is required"))
		return
	}

	feedback, err := s.minitest.Evaluate(r.Context(), req.TestName, req.TrainingContent, req.UserAnswer)
	if err != nil {
		s.writeDomainFailure(w, r, err)
		return
	}
	s.writeOK(w, map[string]any{"feedback": feedback})
}

func (s *Server) handlePromptGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		promptgenuc.Input
		Titles []string `json:"titles"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	// Batch form: regenerate one prompt per title, in order.
	if len(req.Titles) > 0 {
		type item struct {
			Title  string                       `json:"title"`
			Prompt *promptgenuc.GeneratedPrompt `json:"prompt,omitempty"`
			Error  string                       `json:"error,omitempty"`
		}
		items := make([]item, len(req.Titles))
		err := s.promptgen.GenerateForTitles(r.Context(), req.Titles, func(i int, p promptgenuc.GeneratedPrompt, err error) {
			items[i] = item{Title: req.Titles[i]}
			if err != nil {
				items[i].Error = err.Error()
				return
			}
			items[i].Prompt = &p
		})
		if err != nil {
			s.writeDomainFailure(w, r, err)
			return
		}
		s.writeOK(w, map[string]any{"items": items})
		return
	}

	if req.Title == "" {
		s.writeFailure(w, http.StatusBadRequest, errors.New("title is required"))
		return
	}
	out, err := s.promptgen.GenerateFromTitle(r.Context(), req.Input)
	if err != nil {
		s.writeDomainFailure(w, r, err)
		return
	}
	s.writeOK(w, map[string]any{
		"prompt":         out.Prompt,
		"expectedEffect": out.ExpectedEffect,
		"outputFormat":   out.OutputFormat,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		History []domain.Message `json:"history"`
		Message string           `json:"message"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Message == "" {
		s.writeFailure(w, http.StatusBadRequest, errors.New("message is required"))
		return
	}

	resp, err := s.chat.Respond(r.Context(), req.History, req.Message)
	if err != nil {
		s.writeDomainFailure(w, r, err)
		return
	}
	s.writeOK(w, map[string]any{"response": resp})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeFailure(w, http.StatusBadRequest, errors.New("invalid request body"))
		return false
	}
	return true
}

func (s *Server) writeOK(w http.ResponseWriter, payload map[string]any) {
	body := map[string]any{"ok": true}
	for k, v := range payload {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

// requestLogger returns the request-scoped logger stashed by the wide-event
// middleware, falling back to the server's own.
func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	if l := logpkg.FromContext(r.Context()); l != nil {
		return l
	}
	return s.logger
}

// writeDomainFailure maps sentinel errors to HTTP statuses. Unrecognized
// errors become 500s.
func (s *Server) writeDomainFailure(w http.ResponseWriter, r *http.Request, err error) {
	s.requestLogger(r).Warn("request failed", zap.Error(err))

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidVector),
		errors.Is(err, domain.ErrVectorDimMismatch),
		errors.Is(err, domain.ErrMalformedPayload):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrEmbeddingProviderError),
		errors.Is(err, domain.ErrGenerationProviderError):
		status = http.StatusBadGateway
	case errors.Is(err, domain.ErrMissingConfig):
		status = http.StatusInternalServerError
	default:
		var se *vectorindex.StatusError
		if errors.As(err, &se) {
			status = http.StatusBadGateway
		}
	}
	s.writeFailure(w, status, err)
}

func (s *Server) writeFailure(w http.ResponseWriter, status int, err error) {
	body := map[string]any{
		"ok":    false,
		"error": err.Error(),
	}
	if s.exposeStack {
		body["stack"] = string(debug.Stack())
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
