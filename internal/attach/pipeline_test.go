package attach_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmchat/internal/attach"
	"farmchat/internal/domain"
	"farmchat/internal/obs"
)

// fakeUploader records uploads and fails the first failN calls.
type fakeUploader struct {
	mu    sync.Mutex
	calls int
	failN int
	keys  []string
}

func (f *fakeUploader) Upload(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failN {
		return "", errors.New("connection reset")
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	f.keys = append(f.keys, key)
	return "https://cdn.example.com/" + key, nil
}

func newPipeline(up *fakeUploader, maxBytes int64, retries int) *attach.Pipeline {
	return attach.NewPipeline(up, maxBytes, retries, obs.NewLogger("test"))
}

func TestUploadClassifiesKind(t *testing.T) {
	up := &fakeUploader{}
	p := newPipeline(up, 1<<20, 0)
	ctx := context.Background()

	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

	t.Run("Image", func(t *testing.T) {
		att, err := p.Upload(ctx, attach.File{Name: "photo.png", Data: png})
		require.NoError(t, err)
		assert.Equal(t, domain.AttachmentImage, att.Kind)
		assert.Equal(t, "photo.png", att.Name)
		assert.Contains(t, att.URL, "https://cdn.example.com/")
	})

	t.Run("Voice", func(t *testing.T) {
		att, err := p.Upload(ctx, attach.File{
			Name: "clip.webm", ContentType: "audio/webm", Data: []byte("opus"),
		})
		require.NoError(t, err)
		assert.Equal(t, domain.AttachmentVoice, att.Kind)
	})

	t.Run("GenericFile", func(t *testing.T) {
		att, err := p.Upload(ctx, attach.File{
			Name: "contract.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4"),
		})
		require.NoError(t, err)
		assert.Equal(t, domain.AttachmentFile, att.Kind)
	})
}

func TestUploadRejectsOversize(t *testing.T) {
	up := &fakeUploader{}
	p := newPipeline(up, 10, 0)

	_, err := p.Upload(context.Background(), attach.File{
		Name: "big.bin", Data: bytes.Repeat([]byte{1}, 11),
	})
	assert.ErrorIs(t, err, domain.ErrAttachmentTooLarge)
	assert.Zero(t, up.calls, "oversize file must never reach the store")
}

func TestUploadRejectsEmpty(t *testing.T) {
	p := newPipeline(&fakeUploader{}, 10, 0)

	_, err := p.Upload(context.Background(), attach.File{Name: "empty.txt"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestUploadRetriesTransientFailure(t *testing.T) {
	up := &fakeUploader{failN: 2}
	p := newPipeline(up, 1<<20, 2)

	att, err := p.Upload(context.Background(), attach.File{
		Name: "photo.jpg", ContentType: "image/jpeg", Data: []byte("jpeg"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, up.calls)
	assert.NotEmpty(t, att.URL)
}

func TestUploadExhaustedRetries(t *testing.T) {
	up := &fakeUploader{failN: 100}
	p := newPipeline(up, 1<<20, 1)

	_, err := p.Upload(context.Background(), attach.File{
		Name: "photo.jpg", ContentType: "image/jpeg", Data: []byte("jpeg"),
	})
	assert.ErrorIs(t, err, domain.ErrUploadFailed)
	assert.Equal(t, 2, up.calls)
}

func TestUploadBatchIsolation(t *testing.T) {
	up := &fakeUploader{}
	p := newPipeline(up, 10, 0)

	results := p.UploadBatch(context.Background(), []attach.File{
		{Name: "ok1.txt", ContentType: "text/plain", Data: []byte("aaa")},
		{Name: "big.bin", Data: bytes.Repeat([]byte{1}, 11)},
		{Name: "ok2.txt", ContentType: "text/plain", Data: []byte("bbb")},
	})

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, domain.ErrAttachmentTooLarge)
	assert.NoError(t, results[2].Err)

	accepted := attach.Accepted(results)
	require.Len(t, accepted, 2)
	assert.Equal(t, "ok1.txt", accepted[0].Name)
	assert.Equal(t, "ok2.txt", accepted[1].Name)
}
