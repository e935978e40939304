package prompt

import (
	"fmt"
	"strings"

	"github.com/himeshgonnade/chronosscan/internal/domain/analysis"
	"github.com/himeshgonnade/chronosscan/internal/domain/rag"
)

// DefaultQuery is used when the clinician supplies no explicit question.
const DefaultQuery = "Summarize patient progression and anomalies"

// GetSystemPrompt pins the model to the retrieved context and the expected
// report structure.
func GetSystemPrompt() string {
	return `You are an expert medical AI assistant writing a clinical scan report.
Answer based only on the context provided in the user message. Do not invent
history that is not in the context.

Output a structured response with exactly these sections:
- Progression Summary
- AI Interpretation
- Clinical Recommendation`
}

// GetUserPrompt renders the retrieved context and the clinician query into
// the generation request body.
func GetUserPrompt(contextText, query string) string {
	if strings.TrimSpace(query) == "" {
		query = DefaultQuery
	}
	return fmt.Sprintf("Context:\n%s\n\nQuery:\n%s", contextText, query)
}

// HistoricalDocument renders one past report entry as a ranking candidate.
func HistoricalDocument(reportText, scanDate, scanType string) rag.Document {
	return rag.Document{
		Content: fmt.Sprintf("Date: %s, Type: %s. Report: %s", scanDate, scanType, reportText),
		Source:  rag.SourceHistoricalReport,
		Date:    scanDate,
	}
}

// CurrentAnalysisDocument renders the present-state candidate. A nil result
// means analysis failed for this scan; the narrative pipeline still needs a
// well-formed input, so the zero result is used instead.
func CurrentAnalysisDocument(res *analysis.Result, date string) rag.Document {
	r := analysis.Result{}
	if res != nil {
		r = *res
	}
	anomaly := "No"
	if r.AnomalyDetected {
		anomaly = "Yes"
	}
	return rag.Document{
		Content: fmt.Sprintf("Current Scan Analysis: Change: %.1f%% Anomaly: %s", r.ChangePercentage, anomaly),
		Source:  rag.SourceCurrentAnalysis,
		Date:    date,
	}
}

// ContextText joins the ranked documents into the prompt context block.
func ContextText(docs []rag.Document) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.Content)
	}
	return strings.Join(parts, "\n")
}
