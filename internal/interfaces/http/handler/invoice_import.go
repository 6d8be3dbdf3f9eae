package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	invoiceapp "github.com/carlosmonteiro/serverless-commerce/internal/application/invoice"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/logger"
	"github.com/carlosmonteiro/serverless-commerce/internal/interfaces/http/dto"
)

// ObjectWriter accepts uploads for the local blob store.
type ObjectWriter interface {
	Put(ctx context.Context, key string, data []byte) error
}

// InvoiceImportHandler receives uploads for the local blob store and blob
// completion notifications.
type InvoiceImportHandler struct {
	BaseHandler
	service  *invoiceapp.ImportService
	objects  ObjectWriter
	uploads  *invoiceapp.UploadQueue
	maxBytes int64
	now      func() time.Time
}

// NewInvoiceImportHandler creates a new InvoiceImportHandler. objects may be
// nil when uploads go straight to S3.
func NewInvoiceImportHandler(service *invoiceapp.ImportService, objects ObjectWriter, maxBytes int64) *InvoiceImportHandler {
	return &InvoiceImportHandler{service: service, objects: objects, maxBytes: maxBytes, now: time.Now}
}

// WithUploadQueue makes BlobEvents queue each key for the import consumer
// instead of processing it in the request.
func (h *InvoiceImportHandler) WithUploadQueue(uploads *invoiceapp.UploadQueue) *InvoiceImportHandler {
	h.uploads = uploads
	return h
}

// Upload handles PUT /uploads/*key, the target of URLs issued by the memory
// blob store. The expires query parameter plays the role of the presigned
// URL's signature window.
func (h *InvoiceImportHandler) Upload(c *gin.Context) {
	if h.objects == nil {
		h.NotFound(c, "Uploads are not served by this instance")
		return
	}
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		h.BadRequest(c, "Object key is required")
		return
	}
	expires, err := time.Parse(time.RFC3339, c.Query("expires"))
	if err != nil || !h.now().Before(expires) {
		h.Forbidden(c, dto.ErrCodeURLExpired, "Upload URL is missing its expiry or has expired")
		return
	}

	reader := io.Reader(c.Request.Body)
	if h.maxBytes > 0 {
		reader = io.LimitReader(c.Request.Body, h.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		h.HandleError(c, shared.ErrValidation.Withf("upload body could not be read"))
		return
	}
	if h.maxBytes > 0 && int64(len(data)) > h.maxBytes {
		h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodeTooLarge, "Upload exceeds the maximum file size")
		return
	}

	if err := h.objects.Put(c.Request.Context(), key, data); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// BlobEvents handles POST /internal/blob-events. The body is an S3 event
// notification; every object key in it is fed to the import workflow. A
// notification for an upload that was already handled is a duplicate, not a
// failure, so redelivered notifications are acknowledged.
func (h *InvoiceImportHandler) BlobEvents(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || !gjson.ValidBytes(body) {
		h.BadRequest(c, "Body is not an S3 event notification")
		return
	}

	log := logger.GetGinLogger(c)
	var (
		results []dto.BlobEventResult
		hardErr error
	)
	for _, raw := range gjson.GetBytes(body, "Records.#.s3.object.key").Array() {
		// S3 form-encodes keys in notifications.
		key, err := url.QueryUnescape(raw.String())
		if err != nil {
			key = raw.String()
		}
		result := dto.BlobEventResult{Key: key}

		if h.uploads != nil {
			if _, err := h.uploads.Enqueue(c.Request.Context(), key); err != nil {
				log.Error("Failed to queue blob event", zap.String("key", key), zap.Error(err))
				if hardErr == nil {
					hardErr = err
				}
				continue
			}
			result.Outcome = dto.BlobOutcomeQueued
			results = append(results, result)
			continue
		}

		tx, err := h.service.HandleUploadCompleted(c.Request.Context(), key)
		switch {
		case err == nil:
			result.Outcome = dto.BlobOutcomeProcessed
			result.TransactionID = tx.TransactionID
			result.Status = string(tx.Status)
		case errors.Is(err, shared.ErrConditionFailed):
			result.Outcome = dto.BlobOutcomeDuplicate
		case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrNotFound):
			log.Info("Ignoring blob event", zap.String("key", key), zap.Error(err))
			result.Outcome = dto.BlobOutcomeIgnored
		default:
			log.Error("Blob event failed", zap.String("key", key), zap.Error(err))
			if hardErr == nil {
				hardErr = err
			}
			continue
		}
		results = append(results, result)
	}

	if hardErr != nil {
		h.HandleError(c, hardErr)
		return
	}
	if results == nil {
		results = []dto.BlobEventResult{}
	}
	h.Success(c, results)
}
