// Package promptgen generates ready-to-use training prompts from scenario
// titles via forced-JSON generation.
package promptgen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kaisha-ai/promptdojo/internal/domain"
	"github.com/kaisha-ai/promptdojo/internal/usecase/review"
)

// Input describes the scenario a prompt should be generated for. Only Title
// is required.
type Input struct {
	Title    string   `json:"title"`
	Category string   `json:"category,omitempty"`
	Keywords string   `json:"keywords,omitempty"`
	Themes   []string `json:"themes,omitempty"`
}

// GeneratedPrompt is the structured result of a title-to-prompt generation.
type GeneratedPrompt struct {
	Prompt         string `json:"prompt"`
	ExpectedEffect string `json:"expectedEffect"`
	OutputFormat   string `json:"outputFormat"`
}

type Service struct {
	gen    domain.Generator
	logger *zap.Logger
}

func NewService(gen domain.Generator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{gen: gen, logger: logger}
}

// GenerateFromTitle produces one complete training prompt for the given
// scenario title.
func (s *Service) GenerateFromTitle(ctx context.Context, in Input) (GeneratedPrompt, error) {
	if strings.TrimSpace(in.Title) == "" {
		return GeneratedPrompt{}, fmt.Errorf("title is required")
	}

	raw, err := s.gen.GenerateJSON(ctx, generationPrompt(in))
	if err != nil {
		return GeneratedPrompt{}, fmt.Errorf("generate prompt for %q: %w", in.Title, err)
	}

	obj, err := review.ExtractJSONObject(raw)
	if err != nil {
		return GeneratedPrompt{}, fmt.Errorf("extract generated prompt: %w", err)
	}

	var out GeneratedPrompt
	if err := json.Unmarshal(obj, &out); err != nil {
		return GeneratedPrompt{}, fmt.Errorf("%w: decode generated prompt: %v", domain.ErrMalformedPayload, err)
	}
	if out.Prompt == "" {
		return GeneratedPrompt{}, fmt.Errorf("%w: generated prompt is empty", domain.ErrMalformedPayload)
	}
	return out, nil
}

// GenerateForTitles regenerates prompts for a list of titles one at a time,
// in order, calling emit for each result. A per-title failure is emitted and
// the loop continues; context cancellation stops it.
func (s *Service) GenerateForTitles(ctx context.Context, titles []string, emit func(i int, p GeneratedPrompt, err error)) error {
	for i, title := range titles {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := s.GenerateFromTitle(ctx, Input{Title: title})
		if err != nil {
			s.logger.Warn("prompt generation failed", zap.String("title", title), zap.Error(err))
		}
		emit(i, p, err)
	}
	return nil
}

func generationPrompt(in Input) string {
	var aux []string
	if len(in.Themes) > 0 {
		aux = append(aux, strings.Join(in.Themes, " / "))
	}
	if in.Category != "" {
		aux = append(aux, "カテゴリ: "+in.Category)
	}
	if in.Keywords != "" {
		aux = append(aux, "キーワード: "+in.Keywords)
	}
	auxText := strings.Join(aux, "\n")
	if auxText == "" {
		auxText = "（なし）"
	}

	return fmt.Sprintf(`あなたは「生成AI研修（プロンプトエンジニアリング基礎）」の教材作成者です。
次のタイトルの業務を実現するために、受講者がそのままコピペして使える「完成プロンプト」を1つ作ってください。

【必須条件】完成プロンプトは必ず以下4条件を満たすこと：
1. 指示が明確
2. 背景情報が整理されている
3. 出力形式の指定がある
4. 構造化されている（見出し・箇条書き・手順など）

【タイトル】
%s

【補助情報】（あれば参照）
%s

【出力ルール】
以下のJSONのみを出力してください（余計な文章は不要）:
{
  "prompt": "（完成プロンプト本文）",
  "expectedEffect": "（このプロンプトで期待できる効果を1〜2文）",
  "outputFormat": "（AIの出力形式の指定を短く要約。例：Markdown/表/箇条書き等）"
}

【重要】
- JSON以外は絶対に出力しない
- フィールド名は必ず prompt / expectedEffect / outputFormat
- 文字列はすべてダブルクォートで囲む`, in.Title, auxText)
}
