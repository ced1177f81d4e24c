// Package minitest evaluates short training quiz answers and returns a single
// free-text feedback string.
package minitest

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kaisha-ai/promptdojo/internal/domain"
)

const (
	TestComprehension = "ミニテストA：研修理解"
	TestStructuring   = "ミニテストB：プロンプト構造化"
)

// structuringModelAnswer is the reference solution for the structuring test.
// An answer that matches it exactly after trimming skips evaluation and gets
// a praise response instead.
const structuringModelAnswer = `役割: あなたはビジネスメールの作成を支援するアシスタントです。
タスク: 今日の進捗と課題を伝える報告メールの例文を作成してください。
条件:
- 文体はビジネスカジュアル
- 進捗と課題をそれぞれ明記する`

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

// Evaluate scores a quiz answer against the training content and returns
// short feedback. The tone and length bounds live in the prompt, not in code.
func (s *Service) Evaluate(ctx context.Context, testName, trainingContent, userAnswer string) (string, error) {
	answer := strings.TrimSpace(userAnswer)
	if answer == "" {
		return "", fmt.Errorf("user answer is required")
	}

	feedback, err := s.gen.Generate(ctx, evaluationPrompt(testName, trainingContent, answer))
	if err != nil {
		return "", fmt.Errorf("evaluate mini test: %w", err)
	}
	s.logger.Debug("mini test evaluated", zap.String("test", testName))
	return feedback, nil
}

func evaluationPrompt(testName, trainingContent, answer string) string {
	switch testName {
	case TestComprehension:
		return fmt.Sprintf(`あなたは研修講師のAIアシスタントです。研修内容に基づいて受講者の解答を採点し、フィードバックしてください。

テスト名: %s
研修内容: %s
受講者の解答: %s

正解かどうかを最初に伝え、理由を簡潔に説明してください。フィードバックは120文字程度の日本語で、親しみやすく前向きな口調で書いてください。`, testName, trainingContent, answer)

	case TestStructuring:
		if answer == strings.TrimSpace(structuringModelAnswer) {
			return fmt.Sprintf(`受講者が模範解答と完全に一致する構造化プロンプトを提出しました。

テスト名: %s
受講者の解答: %s

完璧である旨を称賛するメッセージを、120文字程度の日本語で、親しみやすい口調で書いてください。`, testName, answer)
		}
		return fmt.Sprintf(`あなたは研修講師のAIアシスタントです。受講者が非構造化プロンプトを構造化プロンプトに書き直しました。役割・タスク・条件が整理されているかを評価してください。

テスト名: %s
研修内容: %s
受講者の解答: %s

良い点を先に挙げ、足りない要素があれば指摘してください。フィードバックは120文字程度の日本語で、親しみやすく前向きな口調で書いてください。`, testName, trainingContent, answer)

	default:
		return fmt.Sprintf(`あなたは研修講師のAIアシスタントです。研修内容に基づいて受講者の解答を評価し、理解を深めるための具体的なフィードバックをしてください。

テスト名: %s
研修内容: %s
受講者の解答: %s

フィードバックは120文字程度の日本語で、親しみやすく前向きな口調で書いてください。`, testName, trainingContent, answer)
	}
}
