package model

// FindingKind classifies a row-level data-quality finding.
type FindingKind string

const (
	FindingValidation     FindingKind = "validation_error"
	FindingClassification FindingKind = "classification_ambiguity"
	FindingClustering     FindingKind = "clustering_anomaly"
	FindingDangling       FindingKind = "association_dangling"
)

// Finding is a row-level issue. Findings never stop a run; they are reported next to
// the outputs so the row can be fixed at the source.
type Finding struct {
	Kind     FindingKind `json:"kind"`
	Entity   Entity      `json:"entity"`
	RecordID int64       `json:"record_id"`
	Field    string      `json:"field,omitempty"`
	Message  string      `json:"message"`
}
