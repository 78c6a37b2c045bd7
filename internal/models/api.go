package models

import "time"

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type CreateScanResponse struct {
	ScanID  string `json:"scanId"`
	Message string `json:"message"`
}

type StatusResponse struct {
	Status   ScanStatus `json:"status"`
	Progress int        `json:"progress"`
	Complete bool       `json:"complete"`
	Logs     []LogEntry `json:"logs"`
}

type ResultsMeta struct {
	NFiles         int      `json:"n_files"`
	NPairs         int      `json:"n_pairs"`
	RuntimeMS      int64    `json:"runtime_ms"`
	Excluded       []string `json:"excluded,omitempty"`
	MeanSimilarity float64  `json:"mean_similarity"`
}

type ResultsResponse struct {
	Meta  ResultsMeta  `json:"meta"`
	Pairs []PairResult `json:"pairs"`
}

type CancelResponse struct {
	ScanID string     `json:"scanId"`
	Status ScanStatus `json:"status"`
}

// ScanSummary is one row of the scan history
type ScanSummary struct {
	ScanID        string     `json:"scan_id"`
	CreatedAt     time.Time  `json:"created_at"`
	Status        ScanStatus `json:"status"`
	Progress      int        `json:"progress"`
	FileCount     int        `json:"file_count"`
	PairCount     int        `json:"pair_count"`
	HighRiskCount int        `json:"high_risk_count"`
	TopSimilarity float64    `json:"top_similarity"`
	RuntimeMS     int64      `json:"runtime_ms"`
}

type ScansResponse struct {
	Scans []ScanSummary `json:"scans"`
}

// AlertView is the wire shape of an alert; payload is serialized JSON text
type AlertView struct {
	ID          string    `json:"id"`
	ScanID      *string   `json:"scan_id"`
	Service     string    `json:"service"`
	ErrorCode   string    `json:"error_code"`
	Message     string    `json:"message"`
	PayloadJSON string    `json:"payload_json"`
	CreatedAt   time.Time `json:"created_at"`
}

type AlertsResponse struct {
	Alerts []AlertView `json:"alerts"`
}

type FileContentResponse struct {
	Content string `json:"content"`
}

// ListQuery is bound from ?limit=N&q=text
type ListQuery struct {
	Limit int    `form:"limit" binding:"omitempty,gte=0"`
	Query string `form:"q" binding:"omitempty,max=200"`
}

// ScanJob is the message carried on the scan dispatch stream
type ScanJob struct {
	ScanID     string    `json:"scanId"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}
