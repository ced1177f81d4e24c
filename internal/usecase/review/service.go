// Package review runs the two-stage prompt review: a free-form pass that
// answers the user's prompt, then a forced-JSON pass that scores the prompt
// against a fixed set of criteria.
package review

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kaisha-ai/promptdojo/internal/domain"
	"github.com/kaisha-ai/promptdojo/internal/metrics"
)

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

// GenerateReview answers the user's prompt in the given scenario and scores
// the prompt on the four review criteria. A failure in the answer stage is
// fatal; a failure in the evaluation stage degrades to default evaluations so
// the caller always receives a complete result.
func (s *Service) GenerateReview(ctx context.Context, scenario, userPrompt string) (domain.ReviewResult, error) {
	if strings.TrimSpace(userPrompt) == "" {
		return domain.ReviewResult{}, fmt.Errorf("user prompt is required")
	}

	aiOutput, err := s.gen.Generate(ctx, outputPrompt(scenario, userPrompt))
	if err != nil {
		metrics.ReviewStagesTotal.WithLabelValues("output", "error").Inc()
		return domain.ReviewResult{}, fmt.Errorf("generate output: %w", err)
	}
	metrics.ReviewStagesTotal.WithLabelValues("output", "success").Inc()

	return domain.ReviewResult{
		AIOutput:    aiOutput,
		Evaluations: s.evaluate(ctx, scenario, userPrompt),
	}, nil
}

func (s *Service) evaluate(ctx context.Context, scenario, userPrompt string) []domain.Evaluation {
	raw, err := s.gen.GenerateJSON(ctx, evaluationPrompt(scenario, userPrompt))
	if err != nil {
		metrics.ReviewStagesTotal.WithLabelValues("evaluation", "error").Inc()
		metrics.ReviewDefaultFillTotal.Inc()
		s.logger.Warn("evaluation stage failed, falling back to defaults", zap.Error(err))
		return domain.DefaultEvaluations()
	}
	metrics.ReviewStagesTotal.WithLabelValues("evaluation", "success").Inc()

	payload, err := parseEvaluationPayload(raw)
	if err != nil {
		metrics.ReviewDefaultFillTotal.Inc()
		s.logger.Warn("evaluation payload unparseable, falling back to defaults",
			zap.Error(err),
			zap.String("raw_head", head(raw, 200)),
		)
		return domain.DefaultEvaluations()
	}

	return domain.NormalizeEvaluations(payload.Evaluations)
}

func outputPrompt(scenario, userPrompt string) string {
	return fmt.Sprintf(`あなたは業務を支援するAIアシスタントです。次のビジネスシナリオにおいて、ユーザーが作成したプロンプトにそのまま回答してください。

シナリオ: %s

プロンプト:
%s

回答の本文のみを出力してください。前置きや説明は不要です。`, scenario, userPrompt)
}

func evaluationPrompt(scenario, userPrompt string) string {
	return fmt.Sprintf(`あなたはAIプロンプトのレビュアーです。次のビジネスシナリオに対してユーザーが作成したプロンプトを、4つの評価項目で分析してください。

シナリオ: %s

プロンプト:
%s

【評価項目】（この順番で必ず4件すべて出力すること）
1. 指示の明確さ
2. 背景情報が整理されているか
3. 出力形式の指定
4. 構造化されているか

【出力ルール】
- 以下の形式のJSONのみを出力する（余計な文章は不要）:
  {"evaluations":[{"criteria":"指示の明確さ","status":"良好","advice":"..."}]}
- "criteria" は評価項目名をそのまま使用する
- "status" は「非常に良い」「良好」「改善点」のいずれか
- "advice" は80文字以内の具体的な改善アドバイスで、改行を含めない`, scenario, userPrompt)
}

// head truncates s to at most n bytes without splitting a UTF-8 rune.
func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
