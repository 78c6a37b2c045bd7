package models

import "time"

// Alert is an append-only operational event, optionally scoped to a scan
type Alert struct {
	ID        string         `bson:"_id" json:"id"`
	ScanID    string         `bson:"scanId,omitempty" json:"scan_id,omitempty"`
	Service   string         `bson:"service" json:"service"`
	ErrorCode string         `bson:"errorCode" json:"error_code"`
	Message   string         `bson:"message" json:"message"`
	Payload   map[string]any `bson:"payload,omitempty" json:"payload,omitempty"`
	CreatedAt time.Time      `bson:"createdAt" json:"created_at"`
}

// Services that raise alerts
const (
	ServiceGateway      = "gateway"
	ServiceOrchestrator = "orchestrator"
	ServiceNormalizer   = "normalizer"
	ServiceDispatcher   = "dispatcher"
)

// Alert codes
const (
	AlertUploadFailed      = "UPLOAD_FAILED"
	AlertFileUnreadable    = "FILE_UNREADABLE"
	AlertInsufficientFiles = "INSUFFICIENT_FILES"
	AlertStorageFailure    = "STORAGE_FAILURE"
	AlertScanTimeout       = "SCAN_TIMEOUT"
	AlertDispatchFailed    = "DISPATCH_FAILED"
	AlertScanFailed        = "SCAN_FAILED"
)
