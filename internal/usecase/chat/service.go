// Package chat implements the AI mentor assistant for the training app.
package chat

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kaisha-ai/promptdojo/internal/domain"
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

// Respond answers the user's message in the context of the conversation so far.
func (s *Service) Respond(ctx context.Context, history []domain.Message, userInput string) (string, error) {
	if strings.TrimSpace(userInput) == "" {
		return "", fmt.Errorf("message is required")
	}

	text, err := s.gen.Generate(ctx, mentorPrompt(history, userInput))
	if err != nil {
		return "", fmt.Errorf("generate chat response: %w", err)
	}
	return text, nil
}

func mentorPrompt(history []domain.Message, userInput string) string {
	var b strings.Builder
	b.WriteString(`あなたはプロンプトエンジニアリング研修の親しみやすいAIメンターです。プロンプトエンジニアリングを学ぶユーザーを支援してください。回答は簡潔で、前向きで、分かりやすい日本語で書いてください。

これまでの会話:
`)
	if len(history) == 0 {
		b.WriteString("（なし）\n")
	}
	for _, m := range history {
		fmt.Fprintf(&b, "- %s: %s\n", m.Role, m.Text)
	}
	b.WriteString("\n新しいメッセージ: ")
	b.WriteString(userInput)
	b.WriteString("\n\nあなたの回答:")
	return b.String()
}
