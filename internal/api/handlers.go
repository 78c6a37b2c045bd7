package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/RishiKendai/plagcode/internal/apperr"
	"github.com/RishiKendai/plagcode/internal/models"
	"github.com/gin-gonic/gin"
)

// ScanService is the scan lifecycle behind the HTTP surface
type ScanService interface {
	Create(ctx context.Context, uploads []models.Upload, opts models.ScanOptions) (string, error)
	Status(ctx context.Context, scanID string) (*models.StatusResponse, error)
	Results(ctx context.Context, scanID string) (*models.ResultsResponse, error)
	Cancel(ctx context.Context, scanID string) (*models.CancelResponse, error)
	FileContent(ctx context.Context, scanID, name string) (string, error)
}

// HistoryService serves scan history and alerts
type HistoryService interface {
	RecordAlert(ctx context.Context, service, code, message string, payload map[string]any, scanID string)
	ListScans(ctx context.Context, limit int) ([]models.ScanSummary, error)
	ListAlerts(ctx context.Context, limit int, query string) ([]models.AlertView, error)
}

// Handler holds dependencies for handlers
type Handler struct {
	scans        ScanService
	history      HistoryService
	maxFileBytes int64
}

// NewHandler creates a new handler
func NewHandler(scans ScanService, history HistoryService, maxFileBytes int64) *Handler {
	return &Handler{
		scans:        scans,
		history:      history,
		maxFileBytes: maxFileBytes,
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

// CreateScan accepts a multipart upload of files[] plus an optional options JSON field
func (h *Handler) CreateScan(c *gin.Context) {
	ctx := c.Request.Context()

	form, err := c.MultipartForm()
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		_ = c.Error(apperr.Newf(apperr.CodeInvalidInput, "upload exceeds %d bytes", tooLarge.Limit))
		return
	}
	if err != nil {
		_ = c.Error(apperr.Newf(apperr.CodeInvalidInput, "invalid multipart form: %v", err))
		return
	}

	opts, err := parseOptions(form.Value["options"])
	if err != nil {
		_ = c.Error(err)
		return
	}

	headers := make([]*multipart.FileHeader, 0, len(form.File["files[]"])+len(form.File["files"]))
	headers = append(headers, form.File["files[]"]...)
	headers = append(headers, form.File["files"]...)
	uploads := make([]models.Upload, 0, len(headers))
	for _, fh := range headers {
		content, err := h.readUpload(fh)
		if err != nil {
			h.history.RecordAlert(ctx, models.ServiceGateway, models.AlertUploadFailed,
				fmt.Sprintf("failed to read upload %s: %v", fh.Filename, err),
				map[string]any{"file": fh.Filename, "size": fh.Size}, "")
			_ = c.Error(apperr.Wrap(err, apperr.CodeInvalidInput, "failed to read "+fh.Filename))
			return
		}
		uploads = append(uploads, models.Upload{Name: fh.Filename, Content: content})
	}

	scanID, err := h.scans.Create(ctx, uploads, opts)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, models.CreateScanResponse{
		ScanID:  scanID,
		Message: fmt.Sprintf("Scan queued with %d files", len(uploads)),
	})
}

// parseOptions decodes the options field over the defaults
func parseOptions(values []string) (models.ScanOptions, error) {
	opts := models.DefaultScanOptions()
	if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
		return opts, nil
	}
	dec := json.NewDecoder(strings.NewReader(values[0]))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&opts); err != nil {
		return opts, apperr.Newf(apperr.CodeInvalidInput, "invalid options: %v", err)
	}
	return opts, nil
}

// readUpload reads one part, stopping one byte past the cap so oversize files are still rejected by size
func (h *Handler) readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if h.maxFileBytes > 0 {
		r = io.LimitReader(f, h.maxFileBytes+1)
	}
	return io.ReadAll(r)
}

func (h *Handler) ScanStatus(c *gin.Context) {
	resp, err := h.scans.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ScanResults(c *gin.Context) {
	resp, err := h.scans.Results(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) CancelScan(c *gin.Context) {
	resp, err := h.scans.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListScans(c *gin.Context) {
	var q models.ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(apperr.Newf(apperr.CodeInvalidInput, "invalid query: %v", err))
		return
	}
	scans, err := h.history.ListScans(c.Request.Context(), q.Limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, models.ScansResponse{Scans: scans})
}

func (h *Handler) ListAlerts(c *gin.Context) {
	var q models.ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(apperr.Newf(apperr.CodeInvalidInput, "invalid query: %v", err))
		return
	}
	alerts, err := h.history.ListAlerts(c.Request.Context(), q.Limit, q.Query)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, models.AlertsResponse{Alerts: alerts})
}

// FileContent serves /files/:scanId/*path; the wildcard keeps nested upload names intact
func (h *Handler) FileContent(c *gin.Context) {
	name := strings.TrimPrefix(c.Param("path"), "/")
	if name == "" {
		_ = c.Error(apperr.New(apperr.CodeInvalidInput, "file path is required"))
		return
	}
	content, err := h.scans.FileContent(c.Request.Context(), c.Param("scanId"), name)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, models.FileContentResponse{Content: content})
}
