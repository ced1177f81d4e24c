package promptgen

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kaisha-ai/promptdojo/internal/domain"
)

type mockGenerator struct {
	outputs []string
	errs    []error
	prompts []string
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return m.GenerateJSON(ctx, prompt)
}

func (m *mockGenerator) GenerateJSON(_ context.Context, prompt string) (string, error) {
	i := len(m.prompts)
	m.prompts = append(m.prompts, prompt)
	var out string
	var err error
	if i < len(m.outputs) {
		out = m.outputs[i]
	}
	if i < len(m.errs) {
		err = m.errs[i]
	}
	return out, err
}

func TestGenerateFromTitle(t *testing.T) {
	gen := &mockGenerator{outputs: []string{
		`{"prompt":"# 目的\n議事録を作成する","expectedEffect":"会議内容が整理される","outputFormat":"Markdown"}`,
	}}
	svc := NewService(gen, nil)

	out, err := svc.GenerateFromTitle(context.Background(), Input{
		Title:    "会議議事録の作成",
		Category: "総務",
		Keywords: "議事録, 要約",
		Themes:   []string{"文書作成", "効率化"},
	})
	if err != nil {
		t.Fatalf("GenerateFromTitle: %v", err)
	}
	if out.Prompt == "" || out.ExpectedEffect != "会議内容が整理される" || out.OutputFormat != "Markdown" {
		t.Errorf("out = %+v", out)
	}
	prompt := gen.prompts[0]
	for _, want := range []string{"会議議事録の作成", "カテゴリ: 総務", "キーワード: 議事録, 要約", "文書作成 / 効率化", "4条件"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestGenerateFromTitle_FencedOutputRecovered(t *testing.T) {
	gen := &mockGenerator{outputs: []string{
		"```json\n{\"prompt\":\"p\",\"expectedEffect\":\"e\",\"outputFormat\":\"f\"}\n```",
	}}
	svc := NewService(gen, nil)

	out, err := svc.GenerateFromTitle(context.Background(), Input{Title: "t"})
	if err != nil {
		t.Fatalf("GenerateFromTitle: %v", err)
	}
	if out.Prompt != "p" {
		t.Errorf("Prompt = %q", out.Prompt)
	}
}

func TestGenerateFromTitle_ProseWrappedOutputRecovered(t *testing.T) {
	gen := &mockGenerator{outputs: []string{
		`こちらが結果です: {"prompt":"p","expectedEffect":"e","outputFormat":"f"} ご確認ください。`,
	}}
	svc := NewService(gen, nil)

	out, err := svc.GenerateFromTitle(context.Background(), Input{Title: "t"})
	if err != nil {
		t.Fatalf("GenerateFromTitle: %v", err)
	}
	if out.Prompt != "p" || out.OutputFormat != "f" {
		t.Errorf("out = %+v", out)
	}
}

func TestGenerateFromTitle_RequiresTitle(t *testing.T) {
	svc := NewService(&mockGenerator{}, nil)
	if _, err := svc.GenerateFromTitle(context.Background(), Input{Title: " "}); err == nil {
		t.Fatal("expected error for blank title")
	}
}

func TestGenerateFromTitle_MalformedOutput(t *testing.T) {
	gen := &mockGenerator{outputs: []string{"生成できませんでした"}}
	svc := NewService(gen, nil)

	_, err := svc.GenerateFromTitle(context.Background(), Input{Title: "t"})
	if !errors.Is(err, domain.ErrMalformedPayload) {
		t.Fatalf("err = %v, want ErrMalformedPayload", err)
	}
}

func TestGenerateForTitles_EmitsInOrderAndContinuesOnError(t *testing.T) {
	gen := &mockGenerator{
		outputs: []string{
			`{"prompt":"p1","expectedEffect":"e1","outputFormat":"f1"}`,
			"",
			`{"prompt":"p3","expectedEffect":"e3","outputFormat":"f3"}`,
		},
		errs: []error{nil, errors.New("rate limited"), nil},
	}
	svc := NewService(gen, nil)

	type emitted struct {
		i   int
		p   GeneratedPrompt
		err error
	}
	var got []emitted
	err := svc.GenerateForTitles(context.Background(), []string{"a", "b", "c"}, func(i int, p GeneratedPrompt, err error) {
		got = append(got, emitted{i, p, err})
	})
	if err != nil {
		t.Fatalf("GenerateForTitles: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("emitted %d results, want 3", len(got))
	}
	for i, e := range got {
		if e.i != i {
			t.Errorf("emit order: got index %d at position %d", e.i, i)
		}
	}
	if got[0].p.Prompt != "p1" || got[0].err != nil {
		t.Errorf("first result = %+v", got[0])
	}
	if got[1].err == nil {
		t.Error("second result should carry the per-title error")
	}
	if got[2].p.Prompt != "p3" || got[2].err != nil {
		t.Errorf("third result = %+v", got[2])
	}
}

func TestGenerateForTitles_StopsOnCancellation(t *testing.T) {
	gen := &mockGenerator{outputs: []string{
		`{"prompt":"p1","expectedEffect":"e1","outputFormat":"f1"}`,
	}}
	svc := NewService(gen, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var emitCount int
	err := svc.GenerateForTitles(ctx, []string{"a", "b", "c"}, func(i int, _ GeneratedPrompt, _ error) {
		emitCount++
		cancel()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if emitCount != 1 {
		t.Errorf("emitted %d results after cancellation, want 1", emitCount)
	}
}
