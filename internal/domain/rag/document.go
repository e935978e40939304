package rag

// Document sources
const (
	SourceHistoricalReport = "historical_report"
	SourceCurrentAnalysis  = "current_analysis"
)

// Document is one ranking candidate: either a historical report or the
// current-analysis summary built from the scan just ingested.
type Document struct {
	Content string `json:"content"`
	Source  string `json:"source"`
	Date    string `json:"date"`
}

// IsCurrentAnalysis reports whether the document carries present-state data.
func (d Document) IsCurrentAnalysis() bool {
	return d.Source == SourceCurrentAnalysis
}
