package httpserver

import (
	"errors"
	"io"
	"net/http"

	"farmchat/internal/attach"
	"farmchat/internal/domain"
)

type uploadResult struct {
	Name       string             `json:"name"`
	Attachment *domain.Attachment `json:"attachment,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// handleUploadAttachments accepts a multipart batch under the "files" field
// and uploads each file independently: one rejected file never blocks the
// rest. Callers attach the returned references to their next send.
func handleUploadAttachments(pipeline *attach.Pipeline, maxBatchBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := CurrentPrincipal(r)
		if principal == nil {
			writeError(w, domain.ErrUnauthorized)
			return
		}
		if err := r.ParseMultipartForm(maxBatchBytes); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to parse multipart form"})
			return
		}
		headers := r.MultipartForm.File["files"]
		if len(headers) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no files provided"})
			return
		}

		files := make([]attach.File, 0, len(headers))
		for _, header := range headers {
			f, err := header.Open()
			if err != nil {
				files = append(files, attach.File{Name: header.Filename})
				continue
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				files = append(files, attach.File{Name: header.Filename})
				continue
			}
			files = append(files, attach.File{
				Name:        header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Data:        data,
			})
		}

		results := pipeline.UploadBatch(r.Context(), files)
		out := make([]uploadResult, 0, len(results))
		for _, res := range results {
			entry := uploadResult{Name: res.Name}
			if res.Err != nil {
				entry.Error = reason(res.Err)
			} else {
				att := res.Attachment
				entry.Attachment = &att
			}
			out = append(out, entry)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func reason(err error) string {
	switch {
	case errors.Is(err, domain.ErrAttachmentTooLarge):
		return "attachment too large"
	case errors.Is(err, domain.ErrUploadFailed):
		return "upload failed"
	default:
		return err.Error()
	}
}
