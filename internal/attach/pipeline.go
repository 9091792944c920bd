// Package attach validates and uploads message media, turning raw files into
// attachment references a send can carry.
package attach

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"farmchat/internal/blob"
	"farmchat/internal/domain"
)

// File is one candidate upload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Result is the per-file outcome of a batch. Either Attachment or Err is set.
type Result struct {
	Name       string
	Attachment domain.Attachment
	Err        error
}

// Pipeline enforces the size cap and writes accepted files to the blob store.
type Pipeline struct {
	uploader blob.Uploader
	maxBytes int64
	retries  int
	backoff  time.Duration
	logger   *slog.Logger
}

func NewPipeline(uploader blob.Uploader, maxBytes int64, retries int, logger *slog.Logger) *Pipeline {
	if retries < 0 {
		retries = 0
	}
	return &Pipeline{
		uploader: uploader,
		maxBytes: maxBytes,
		retries:  retries,
		backoff:  250 * time.Millisecond,
		logger:   logger,
	}
}

// Upload validates and stores one file. Oversize files fail with
// ErrAttachmentTooLarge without being sent to the store; transient store
// failures are retried with backoff before surfacing ErrUploadFailed.
func (p *Pipeline) Upload(ctx context.Context, f File) (domain.Attachment, error) {
	if len(f.Data) == 0 {
		return domain.Attachment{}, fmt.Errorf("%w: empty file", domain.ErrInvalidInput)
	}
	if p.maxBytes > 0 && int64(len(f.Data)) > p.maxBytes {
		return domain.Attachment{}, fmt.Errorf("%w: %s is %d bytes (limit %d)",
			domain.ErrAttachmentTooLarge, f.Name, len(f.Data), p.maxBytes)
	}

	contentType := f.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(f.Data)
	}

	key := uuid.NewString() + strings.ToLower(filepath.Ext(f.Name))
	url, err := p.uploadWithRetry(ctx, key, f.Data, contentType)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("%w: %s: %v", domain.ErrUploadFailed, f.Name, err)
	}

	return domain.Attachment{
		Kind: classifyKind(contentType),
		URL:  url,
		Name: f.Name,
	}, nil
}

// UploadBatch uploads every file independently: one rejected or failed file
// never aborts the rest of the batch.
func (p *Pipeline) UploadBatch(ctx context.Context, files []File) []Result {
	results := make([]Result, 0, len(files))
	for _, f := range files {
		att, err := p.Upload(ctx, f)
		if err != nil && p.logger != nil {
			p.logger.Warn("attachment rejected", "name", f.Name, "err", err)
		}
		results = append(results, Result{Name: f.Name, Attachment: att, Err: err})
	}
	return results
}

// Accepted extracts the successful attachments of a batch, in input order.
func Accepted(results []Result) []domain.Attachment {
	var atts []domain.Attachment
	for _, r := range results {
		if r.Err == nil {
			atts = append(atts, r.Attachment)
		}
	}
	return atts
}

func (p *Pipeline) uploadWithRetry(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(p.backoff * time.Duration(attempt)):
			}
		}
		url, err := p.uploader.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
		if err == nil {
			return url, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
	}
	return "", lastErr
}

func classifyKind(contentType string) domain.AttachmentKind {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return domain.AttachmentImage
	case strings.HasPrefix(contentType, "audio/"):
		return domain.AttachmentVoice
	default:
		return domain.AttachmentFile
	}
}
