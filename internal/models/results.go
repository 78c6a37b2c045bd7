package models

// Label classifies a pair by similarity
type Label string

const (
	LabelHigh   Label = "high"
	LabelMedium Label = "medium"
	LabelLow    Label = "low"
)

// Span pairs a matched line range in file_a with one in file_b. Lines are 1-based, inclusive.
type Span struct {
	StartA int `bson:"startA" json:"start_a"`
	EndA   int `bson:"endA" json:"end_a"`
	StartB int `bson:"startB" json:"start_b"`
	EndB   int `bson:"endB" json:"end_b"`
}

// PairResult is the stored row for one unordered file pair, FileA < FileB
type PairResult struct {
	ScanID       string  `bson:"scanId" json:"-"`
	FileA        string  `bson:"fileA" json:"file_a"`
	FileB        string  `bson:"fileB" json:"file_b"`
	Similarity   float64 `bson:"similarity" json:"similarity"`
	Label        Label   `bson:"label" json:"label"`
	OverlapSpans []Span  `bson:"overlapSpans" json:"overlap_spans"`
}
