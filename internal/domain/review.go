package domain

import "strings"

// The four prompt-quality criteria. The set is closed and the order is canonical:
// it drives both display order and default-fill.
const (
	CriterionClarity   = "指示の明確さ"
	CriterionContext   = "背景情報が整理されているか"
	CriterionFormat    = "出力形式の指定"
	CriterionStructure = "構造化されているか"
)

// CriteriaOrder is the canonical criterion order.
var CriteriaOrder = []string{
	CriterionClarity,
	CriterionContext,
	CriterionFormat,
	CriterionStructure,
}

// Evaluation statuses.
const (
	StatusExcellent        = "非常に良い"
	StatusGood             = "良好"
	StatusNeedsImprovement = "改善点"
)

// DefaultAdvice is the fallback advice for criteria missing from the model response.
const DefaultAdvice = "評価結果が不足していました。プロンプトをより具体的にしてください。"

// Evaluation is one criterion's verdict.
type Evaluation struct {
	Criteria string `json:"criteria"`
	Status   string `json:"status"`
	Advice   string `json:"advice"`
}

// ReviewResult is the caller-facing review outcome. Evaluations always has
// exactly one entry per criterion in canonical order.
type ReviewResult struct {
	AIOutput    string       `json:"aiOutput"`
	Evaluations []Evaluation `json:"evaluations"`
}

// DefaultEvaluations returns the full default-fill evaluation set.
func DefaultEvaluations() []Evaluation {
	return NormalizeEvaluations(nil)
}

// NormalizeEvaluations repairs a model-produced evaluation list into the
// guaranteed shape: one entry per criterion, canonical order. Entries with an
// unrecognized criterion are dropped, duplicates resolve last-wins, unknown
// statuses coerce to 改善点, and missing criteria get the default advice.
func NormalizeEvaluations(evals []Evaluation) []Evaluation {
	byCriterion := make(map[string]Evaluation, len(CriteriaOrder))
	for _, ev := range evals {
		if !knownCriterion(ev.Criteria) {
			continue
		}
		byCriterion[ev.Criteria] = Evaluation{
			Criteria: ev.Criteria,
			Status:   normalizeStatus(ev.Status),
			Advice:   escapeNewlines(ev.Advice),
		}
	}

	out := make([]Evaluation, 0, len(CriteriaOrder))
	for _, c := range CriteriaOrder {
		if ev, ok := byCriterion[c]; ok {
			out = append(out, ev)
			continue
		}
		out = append(out, Evaluation{
			Criteria: c,
			Status:   StatusNeedsImprovement,
			Advice:   DefaultAdvice,
		})
	}
	return out
}

func knownCriterion(c string) bool {
	for _, known := range CriteriaOrder {
		if c == known {
			return true
		}
	}
	return false
}

func normalizeStatus(s string) string {
	switch s {
	case StatusExcellent, StatusGood, StatusNeedsImprovement:
		return s
	default:
		return StatusNeedsImprovement
	}
}

// escapeNewlines replaces raw line breaks with literal \n so advice stays a
// single display line.
func escapeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\\n")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return strings.ReplaceAll(s, "\r", "\\n")
}
