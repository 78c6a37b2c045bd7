package models

import (
	"time"
)

type ScanStatus string

const (
	StatusQueued    ScanStatus = "queued"
	StatusRunning   ScanStatus = "running"
	StatusComplete  ScanStatus = "complete"
	StatusFailed    ScanStatus = "failed"
	StatusCancelled ScanStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed out of s
func (s ScanStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCancelled
}

// TerminalStatuses lists the states a scan never leaves
var TerminalStatuses = []ScanStatus{StatusComplete, StatusFailed, StatusCancelled}

// ScanOptions is the normalization configuration snapshot taken at upload time
type ScanOptions struct {
	AutoDetectLanguage   bool   `bson:"autoDetectLanguage" json:"autoDetectLanguage"`
	IgnoreComments       bool   `bson:"ignoreComments" json:"ignoreComments"`
	NormalizeIdentifiers bool   `bson:"normalizeIdentifiers" json:"normalizeIdentifiers"`
	Language             string `bson:"language,omitempty" json:"language,omitempty" validate:"omitempty,max=32,alphanum"`
}

// DefaultScanOptions is used when the upload carries no options field
func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		AutoDetectLanguage: true,
		IgnoreComments:     true,
	}
}

// LogEntry is one processing log line shown while polling
type LogEntry struct {
	Time    string `bson:"time" json:"time"`
	Message string `bson:"message" json:"message"`
}

// NewLogEntry stamps message with the wall clock as HH:MM:SS
func NewLogEntry(message string) LogEntry {
	return LogEntry{Time: time.Now().Format("15:04:05"), Message: message}
}

// Scan represents one similarity run stored in MongoDB
type Scan struct {
	ID             string      `bson:"_id" json:"scan_id"`
	Status         ScanStatus  `bson:"status" json:"status"`
	Progress       int         `bson:"progress" json:"progress"`
	Options        ScanOptions `bson:"options" json:"options"`
	FileCount      int         `bson:"fileCount" json:"file_count"`
	PairCount      int         `bson:"pairCount" json:"pair_count"`
	Excluded       []string    `bson:"excluded,omitempty" json:"excluded,omitempty"`
	Logs           []LogEntry  `bson:"logs" json:"logs"`
	HighRiskCount  int         `bson:"highRiskCount" json:"high_risk_count"`
	TopSimilarity  float64     `bson:"topSimilarity" json:"top_similarity"`
	MeanSimilarity float64     `bson:"meanSimilarity" json:"mean_similarity"`
	ErrorCode      string      `bson:"errorCode,omitempty" json:"error_code,omitempty"`
	Error          string      `bson:"error,omitempty" json:"error,omitempty"`
	RuntimeMS      int64       `bson:"runtimeMs" json:"runtime_ms"`
	CreatedAt      time.Time   `bson:"createdAt" json:"created_at"`
	StartedAt      *time.Time  `bson:"startedAt,omitempty" json:"started_at,omitempty"`
	FinishedAt     *time.Time  `bson:"finishedAt,omitempty" json:"finished_at,omitempty"`
}

// SourceFile is one uploaded file bound to a scan. Content lives in the blob store.
type SourceFile struct {
	ScanID    string    `bson:"scanId" json:"scan_id"`
	Name      string    `bson:"name" json:"name"`
	Language  string    `bson:"language" json:"language"`
	Size      int64     `bson:"size" json:"size"`
	Checksum  string    `bson:"checksum" json:"checksum"`
	BlobKey   string    `bson:"blobKey" json:"-"`
	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
}

// Upload is a file received from a client before it is stored
type Upload struct {
	Name    string
	Content []byte
}

// Completion carries what the orchestrator writes when a scan finishes successfully
type Completion struct {
	FileCount      int
	PairCount      int
	Excluded       []string
	HighRiskCount  int
	TopSimilarity  float64
	MeanSimilarity float64
	RuntimeMS      int64
	FinishedAt     time.Time
}

// Failure carries what the orchestrator writes when a scan ends in failed
type Failure struct {
	ErrorCode  string
	Error      string
	Excluded   []string
	RuntimeMS  int64
	FinishedAt time.Time
}
