// Package rag implements retrieval-augmented answering over the hosted vector
// index: ingest of text documents, grounded question answering, and title
// suggestions for training scenarios.
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kaisha-ai/promptdojo/internal/domain"
	"github.com/kaisha-ai/promptdojo/internal/repository/vectorindex"
)

const (
	defaultTopK = 5

	suggestFetchMin = 10
	suggestFetchMax = 50
)

// VectorIndex is the slice of the index client this service depends on.
type VectorIndex interface {
	UpsertMany(ctx context.Context, vectors []domain.Vector, opts vectorindex.UpsertOptions) ([]json.RawMessage, error)
	Query(ctx context.Context, vector []float32, topK int, opts vectorindex.QueryOptions) (vectorindex.QueryResponse, error)
}

type Service struct {
	embedder domain.Embedder
	index    VectorIndex
	gen      domain.Generator
	logger   *zap.Logger
}

func NewService(embedder domain.Embedder, index VectorIndex, gen domain.Generator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{embedder: embedder, index: index, gen: gen, logger: logger}
}

// Answer is a grounded answer with the hits it was built from, in index order.
type Answer struct {
	Text    string            `json:"text"`
	Sources []domain.QueryHit `json:"sources"`
}

// Answer embeds the question, retrieves the nearest documents, and generates
// an answer constrained to the retrieved context.
func (s *Service) Answer(ctx context.Context, question string, topK int) (Answer, error) {
	if strings.TrimSpace(question) == "" {
		return Answer{}, fmt.Errorf("question is required")
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	emb, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return Answer{}, fmt.Errorf("embed question: %w", err)
	}

	resp, err := s.index.Query(ctx, emb.Embedding, topK, vectorindex.QueryOptions{IncludeMetadata: true})
	if err != nil {
		return Answer{}, fmt.Errorf("query index: %w", err)
	}
	hits := vectorindex.NormalizeHits(resp)

	text, err := s.gen.Generate(ctx, answerPrompt(BuildContext(hits), question))
	if err != nil {
		return Answer{}, fmt.Errorf("generate answer: %w", err)
	}

	return Answer{Text: text, Sources: hits}, nil
}

// Ingest embeds a text document and stores it in the index. The text itself
// is kept in metadata so retrieval can reconstruct the source.
func (s *Service) Ingest(ctx context.Context, id, text string, metadata map[string]any) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("text is required")
	}
	if id == "" {
		return fmt.Errorf("id is required")
	}

	emb, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed document: %w", err)
	}

	if metadata == nil {
		metadata = map[string]any{}
	}
	if _, ok := metadata["text"]; !ok {
		metadata["text"] = text
	}

	_, err = s.index.UpsertMany(ctx, []domain.Vector{{
		ID:       id,
		Values:   emb.Embedding,
		Metadata: metadata,
	}}, vectorindex.UpsertOptions{})
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}

	s.logger.Info("document ingested", zap.String("id", id), zap.Int("dim", len(emb.Embedding)))
	return nil
}

// SuggestTitles retrieves candidate scenario titles similar to the given text
// and tags. It over-fetches, keeps only hits carrying a title, and dedupes.
func (s *Service) SuggestTitles(ctx context.Context, text string, tags []string, topK int) ([]string, error) {
	if strings.TrimSpace(text) == "" && len(tags) == 0 {
		return nil, fmt.Errorf("text or tags are required")
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	// Tags take priority: when any are given they define the query by
	// themselves, free text is only the fallback.
	query := strings.TrimSpace(text)
	if len(tags) > 0 {
		query = strings.TrimSpace(strings.Join(tags, " "))
	}

	emb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// Duplicate titles are common across stored scenarios, so fetch more
	// than requested before deduplicating.
	fetchK := topK * 3
	if fetchK < suggestFetchMin {
		fetchK = suggestFetchMin
	}
	if fetchK > suggestFetchMax {
		fetchK = suggestFetchMax
	}

	resp, err := s.index.Query(ctx, emb.Embedding, fetchK, vectorindex.QueryOptions{IncludeMetadata: true})
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	seen := make(map[string]struct{})
	titles := make([]string, 0, topK)
	for _, hit := range vectorindex.NormalizeHits(resp) {
		title, ok := hit.Metadata["title"].(string)
		if !ok {
			continue
		}
		title = strings.TrimSpace(title)
		if title == "" {
			continue
		}
		if _, dup := seen[title]; dup {
			continue
		}
		seen[title] = struct{}{}
		titles = append(titles, title)
		if len(titles) == topK {
			break
		}
	}
	return titles, nil
}

// BuildContext renders retrieved hits into the numbered source blocks fed to
// the generator. Labels and bodies fall back through the metadata variants
// stored by different ingestion paths.
func BuildContext(hits []domain.QueryHit) string {
	if len(hits) == 0 {
		return ""
	}

	sections := make([]string, 0, len(hits))
	for i, hit := range hits {
		label := metadataString(hit.Metadata, "title")
		if label == "" {
			label = metadataString(hit.Metadata, "category")
		}
		if label == "" {
			label = hit.ID
		}
		if label == "" {
			label = fmt.Sprintf("source-%d", i+1)
		}

		body := hitBody(hit.Metadata)
		sections = append(sections, fmt.Sprintf("### Source %d: %s\n%s", i+1, label, body))
	}
	return strings.Join(sections, "\n\n")
}

func hitBody(metadata map[string]any) string {
	question := metadataString(metadata, "question")
	answer := metadataString(metadata, "answer")
	if question != "" && answer != "" {
		return fmt.Sprintf("Q: %s\nA: %s", question, answer)
	}
	if text := metadataString(metadata, "text"); text != "" {
		return text
	}
	dump, err := json.Marshal(metadata)
	if err != nil {
		return ""
	}
	return string(dump)
}

func metadataString(metadata map[string]any, key string) string {
	s, _ := metadata[key].(string)
	return strings.TrimSpace(s)
}

func answerPrompt(sources, question string) string {
	if sources == "" {
		sources = "（該当する参考情報は見つかりませんでした）"
	}
	return fmt.Sprintf(`あなたは社内ナレッジを参照するアシスタントです。以下の参考情報のみに基づいて質問に答えてください。参考情報に含まれない内容は推測せず、分からない場合はその旨を伝えてください。

【参考情報】
%s

【質問】
%s`, sources, question)
}
