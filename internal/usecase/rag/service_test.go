package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/kaisha-ai/promptdojo/internal/domain"
	"github.com/kaisha-ai/promptdojo/internal/repository/vectorindex"
)

type mockEmbedder struct {
	embedding []float32
	err       error
	lastText  string
}

func (m *mockEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	m.lastText = text
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: m.embedding, TotalTokens: 3}, nil
}

type mockIndex struct {
	queryResp    vectorindex.QueryResponse
	queryErr     error
	lastTopK     int
	lastOpts     vectorindex.QueryOptions
	upserted     []domain.Vector
	upsertErr    error
	upsertCalled int
}

func (m *mockIndex) UpsertMany(_ context.Context, vectors []domain.Vector, _ vectorindex.UpsertOptions) ([]json.RawMessage, error) {
	m.upsertCalled++
	m.upserted = append(m.upserted, vectors...)
	return nil, m.upsertErr
}

func (m *mockIndex) Query(_ context.Context, _ []float32, topK int, opts vectorindex.QueryOptions) (vectorindex.QueryResponse, error) {
	m.lastTopK = topK
	m.lastOpts = opts
	return m.queryResp, m.queryErr
}

type mockGenerator struct {
	out        string
	err        error
	lastPrompt string
}

func (m *mockGenerator) Generate(_ context.Context, prompt string) (string, error) {
	m.lastPrompt = prompt
	return m.out, m.err
}

func (m *mockGenerator) GenerateJSON(_ context.Context, prompt string) (string, error) {
	return m.Generate(nil, prompt)
}

func hitsResponse(t *testing.T, hits []domain.QueryHit) vectorindex.QueryResponse {
	t.Helper()
	raw, err := json.Marshal(hits)
	if err != nil {
		t.Fatalf("marshal hits: %v", err)
	}
	return vectorindex.QueryResponse{Result: raw}
}

func TestAnswer_GroundsGenerationInHits(t *testing.T) {
	hits := []domain.QueryHit{
		{ID: "doc-1", Score: 0.92, Metadata: map[string]any{"title": "経費精算の手順", "text": "申請は月末までに行う。"}},
		{ID: "doc-2", Score: 0.81, Metadata: map[string]any{"text": "領収書は電子保存できる。"}},
	}
	embedder := &mockEmbedder{embedding: []float32{0.1, 0.2}}
	index := &mockIndex{queryResp: hitsResponse(t, hits)}
	gen := &mockGenerator{out: "月末までに申請してください。"}
	svc := NewService(embedder, index, gen, nil)

	answer, err := svc.Answer(context.Background(), "経費はいつまでに申請しますか", 0)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if answer.Text != gen.out {
		t.Errorf("Text = %q, want %q", answer.Text, gen.out)
	}
	if index.lastTopK != defaultTopK {
		t.Errorf("topK = %d, want default %d", index.lastTopK, defaultTopK)
	}
	if !index.lastOpts.IncludeMetadata {
		t.Error("query did not request metadata")
	}
	if len(answer.Sources) != 2 || answer.Sources[0].ID != "doc-1" || answer.Sources[1].ID != "doc-2" {
		t.Errorf("Sources = %+v, want hits in index order", answer.Sources)
	}
	for _, want := range []string{"### Source 1: 経費精算の手順", "申請は月末までに行う。", "経費はいつまでに申請しますか"} {
		if !strings.Contains(gen.lastPrompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestAnswer_RequiresQuestion(t *testing.T) {
	svc := NewService(&mockEmbedder{}, &mockIndex{}, &mockGenerator{}, nil)
	if _, err := svc.Answer(context.Background(), "  ", 5); err == nil {
		t.Fatal("expected error for blank question")
	}
}

func TestAnswer_EmbedErrorPropagates(t *testing.T) {
	wantErr := errors.New("provider down")
	svc := NewService(&mockEmbedder{err: wantErr}, &mockIndex{}, &mockGenerator{}, nil)
	if _, err := svc.Answer(context.Background(), "q", 5); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped %v", err, wantErr)
	}
}

func TestAnswer_NoHitsStillAnswers(t *testing.T) {
	index := &mockIndex{queryResp: vectorindex.QueryResponse{Result: json.RawMessage(`[]`)}}
	gen := &mockGenerator{out: "分かりません。"}
	svc := NewService(&mockEmbedder{embedding: []float32{0.1}}, index, gen, nil)

	answer, err := svc.Answer(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(answer.Sources) != 0 {
		t.Errorf("Sources = %+v, want empty", answer.Sources)
	}
	if !strings.Contains(gen.lastPrompt, "見つかりませんでした") {
		t.Error("prompt should note that no sources were found")
	}
}

func TestIngest_StoresTextInMetadata(t *testing.T) {
	embedder := &mockEmbedder{embedding: []float32{0.5, 0.5}}
	index := &mockIndex{}
	svc := NewService(embedder, index, &mockGenerator{}, nil)

	if err := svc.Ingest(context.Background(), "doc-9", "有給休暇は前日までに申請する。", map[string]any{"category": "人事"}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(index.upserted) != 1 {
		t.Fatalf("upserted %d vectors, want 1", len(index.upserted))
	}
	v := index.upserted[0]
	if v.ID != "doc-9" {
		t.Errorf("ID = %q", v.ID)
	}
	if got := v.Metadata["text"]; got != "有給休暇は前日までに申請する。" {
		t.Errorf("metadata text = %v", got)
	}
	if got := v.Metadata["category"]; got != "人事" {
		t.Errorf("metadata category = %v", got)
	}
}

func TestIngest_KeepsExplicitTextMetadata(t *testing.T) {
	index := &mockIndex{}
	svc := NewService(&mockEmbedder{embedding: []float32{0.5}}, index, &mockGenerator{}, nil)

	if err := svc.Ingest(context.Background(), "doc-1", "full body", map[string]any{"text": "summary"}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if got := index.upserted[0].Metadata["text"]; got != "summary" {
		t.Errorf("metadata text = %v, want caller value kept", got)
	}
}

func TestSuggestTitles_DedupesAndTruncates(t *testing.T) {
	hits := []domain.QueryHit{
		{ID: "1", Metadata: map[string]any{"title": "会議議事録の作成"}},
		{ID: "2", Metadata: map[string]any{"note": "no title"}},
		{ID: "3", Metadata: map[string]any{"title": " 会議議事録の作成 "}},
		{ID: "4", Metadata: map[string]any{"title": "顧客メールの返信"}},
		{ID: "5", Metadata: map[string]any{"title": "営業資料の要約"}},
	}
	index := &mockIndex{queryResp: hitsResponse(t, hits)}
	embedder := &mockEmbedder{embedding: []float32{0.1}}
	svc := NewService(embedder, index, &mockGenerator{}, nil)

	titles, err := svc.SuggestTitles(context.Background(), "議事録", []string{"会議", "要約"}, 2)
	if err != nil {
		t.Fatalf("SuggestTitles: %v", err)
	}
	want := []string{"会議議事録の作成", "顧客メールの返信"}
	if len(titles) != len(want) {
		t.Fatalf("titles = %v, want %v", titles, want)
	}
	for i := range want {
		if titles[i] != want[i] {
			t.Errorf("titles[%d] = %q, want %q", i, titles[i], want[i])
		}
	}
	if embedder.lastText != "会議 要約" {
		t.Errorf("embedded query = %q, want tags only", embedder.lastText)
	}
}

func TestSuggestTitles_QuerySource(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		tags      []string
		wantQuery string
	}{
		{"tags shadow text", "議事録をまとめたい", []string{"営業", "メール"}, "営業 メール"},
		{"text when no tags", "議事録をまとめたい", nil, "議事録をまとめたい"},
		{"tags only", "", []string{"経理"}, "経理"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index := &mockIndex{queryResp: vectorindex.QueryResponse{Result: json.RawMessage(`[]`)}}
			embedder := &mockEmbedder{embedding: []float32{0.1}}
			svc := NewService(embedder, index, &mockGenerator{}, nil)

			if _, err := svc.SuggestTitles(context.Background(), tt.text, tt.tags, 3); err != nil {
				t.Fatalf("SuggestTitles: %v", err)
			}
			if embedder.lastText != tt.wantQuery {
				t.Errorf("embedded query = %q, want %q", embedder.lastText, tt.wantQuery)
			}
		})
	}
}

func TestSuggestTitles_OverFetchClamped(t *testing.T) {
	tests := []struct {
		topK      int
		wantFetch int
	}{
		{1, 10},
		{5, 15},
		{20, 50},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("topK=%d", tt.topK), func(t *testing.T) {
			index := &mockIndex{queryResp: vectorindex.QueryResponse{Result: json.RawMessage(`[]`)}}
			svc := NewService(&mockEmbedder{embedding: []float32{0.1}}, index, &mockGenerator{}, nil)
			if _, err := svc.SuggestTitles(context.Background(), "x", nil, tt.topK); err != nil {
				t.Fatalf("SuggestTitles: %v", err)
			}
			if index.lastTopK != tt.wantFetch {
				t.Errorf("fetch topK = %d, want %d", index.lastTopK, tt.wantFetch)
			}
		})
	}
}

func TestBuildContext(t *testing.T) {
	tests := []struct {
		name string
		hits []domain.QueryHit
		want string
	}{
		{
			name: "empty",
			hits: nil,
			want: "",
		},
		{
			name: "title label with text body",
			hits: []domain.QueryHit{{ID: "a", Metadata: map[string]any{"title": "規程", "text": "本文"}}},
			want: "### Source 1: 規程\n本文",
		},
		{
			name: "category fallback",
			hits: []domain.QueryHit{{ID: "a", Metadata: map[string]any{"category": "人事", "text": "本文"}}},
			want: "### Source 1: 人事\n本文",
		},
		{
			name: "id fallback",
			hits: []domain.QueryHit{{ID: "doc-7", Metadata: map[string]any{"text": "本文"}}},
			want: "### Source 1: doc-7\n本文",
		},
		{
			name: "positional fallback",
			hits: []domain.QueryHit{{Metadata: map[string]any{"text": "本文"}}},
			want: "### Source 1: source-1\n本文",
		},
		{
			name: "question answer pair",
			hits: []domain.QueryHit{{ID: "a", Metadata: map[string]any{"title": "FAQ", "question": "何時まで？", "answer": "17時まで。"}}},
			want: "### Source 1: FAQ\nQ: 何時まで？\nA: 17時まで。",
		},
		{
			name: "metadata dump",
			hits: []domain.QueryHit{{ID: "a", Metadata: map[string]any{"count": float64(3)}}},
			want: "### Source 1: a\n{\"count\":3}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildContext(tt.hits); got != tt.want {
				t.Errorf("BuildContext = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildContext_MultipleHitsJoined(t *testing.T) {
	hits := []domain.QueryHit{
		{ID: "a", Metadata: map[string]any{"text": "first"}},
		{ID: "b", Metadata: map[string]any{"text": "second"}},
	}
	got := BuildContext(hits)
	want := "### Source 1: a\nfirst\n\n### Source 2: b\nsecond"
	if got != want {
		t.Errorf("BuildContext = %q, want %q", got, want)
	}
}
