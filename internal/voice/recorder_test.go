package voice_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmchat/internal/attach"
	"farmchat/internal/domain"
	"farmchat/internal/obs"
	"farmchat/internal/voice"
)

// fakeDevice hands out capture sessions replaying canned audio.
type fakeDevice struct {
	mu       sync.Mutex
	audio    []byte
	acquired int
	err      error
}

func (d *fakeDevice) Acquire(context.Context) (voice.CaptureSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.acquired++
	return &fakeSession{r: bytes.NewReader(d.audio)}, nil
}

type fakeSession struct {
	mu     sync.Mutex
	r      *bytes.Reader
	closed bool
}

func (s *fakeSession) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.EOF
	}
	return s.r.Read(p)
}

func (s *fakeSession) ContentType() string { return "audio/webm" }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type memUploader struct {
	mu      sync.Mutex
	uploads int
	failN   int
	stored  []byte
}

func (u *memUploader) Upload(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.uploads++
	if u.uploads <= u.failN {
		return "", errors.New("store unavailable")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	u.stored = data
	return "https://cdn.example.com/" + key, nil
}

func newRecorder(device voice.CaptureDevice, up *memUploader) *voice.Recorder {
	logger := obs.NewLogger("test")
	pipeline := attach.NewPipeline(up, 1<<20, 0, logger)
	return voice.NewRecorder(device, pipeline, logger)
}

func TestRecordStopUploads(t *testing.T) {
	audio := bytes.Repeat([]byte("opus-frame"), 100)
	device := &fakeDevice{audio: audio}
	up := &memUploader{}
	rec := newRecorder(device, up)
	ctx := context.Background()

	_, err := rec.Start(ctx)
	require.NoError(t, err)
	assert.True(t, rec.Recording())

	note, err := rec.Stop(ctx)
	require.NoError(t, err)
	assert.False(t, rec.Recording())

	assert.True(t, note.Uploaded())
	assert.Equal(t, domain.AttachmentVoice, note.Attachment.Kind)
	assert.Equal(t, note.Duration.Milliseconds(), note.Attachment.DurationMS)
	assert.Equal(t, audio, up.stored)
}

func TestDurationTracksWallClock(t *testing.T) {
	device := &fakeDevice{audio: []byte("audio")}
	rec := newRecorder(device, &memUploader{})
	ctx := context.Background()

	started, err := rec.Start(ctx)
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)

	note, err := rec.Stop(ctx)
	require.NoError(t, err)

	// The duration is the time spent recording, not the time spent reading
	// the capture buffer. Generous upper bound for a loaded CI box.
	assert.GreaterOrEqual(t, note.Duration, 120*time.Millisecond)
	assert.Less(t, note.Duration, 2*time.Second)
	assert.GreaterOrEqual(t, note.Duration, time.Since(started)-time.Second)
}

func TestCancelDiscardsClip(t *testing.T) {
	device := &fakeDevice{audio: []byte("discard me")}
	up := &memUploader{}
	rec := newRecorder(device, up)
	ctx := context.Background()

	_, err := rec.Start(ctx)
	require.NoError(t, err)

	require.NoError(t, rec.Cancel())
	assert.False(t, rec.Recording())
	assert.Zero(t, up.uploads, "cancel must not touch the blob store")

	// Cancel while idle is a no-op.
	require.NoError(t, rec.Cancel())
}

func TestDoubleStartIsNoop(t *testing.T) {
	device := &fakeDevice{audio: []byte("audio")}
	rec := newRecorder(device, &memUploader{})
	ctx := context.Background()

	first, err := rec.Start(ctx)
	require.NoError(t, err)

	second, err := rec.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, device.acquired, "microphone acquired once")

	_, err = rec.Stop(ctx)
	require.NoError(t, err)
}

func TestStopWhileIdle(t *testing.T) {
	rec := newRecorder(&fakeDevice{}, &memUploader{})

	_, err := rec.Stop(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDeviceUnavailable(t *testing.T) {
	device := &fakeDevice{err: domain.ErrDeviceUnavailable}
	rec := newRecorder(device, &memUploader{})

	_, err := rec.Start(context.Background())
	assert.ErrorIs(t, err, domain.ErrDeviceUnavailable)
	assert.False(t, rec.Recording())
}

func TestUploadFailureKeepsClip(t *testing.T) {
	audio := []byte("precious audio")
	device := &fakeDevice{audio: audio}
	up := &memUploader{failN: 1}
	rec := newRecorder(device, up)
	ctx := context.Background()

	_, err := rec.Start(ctx)
	require.NoError(t, err)

	note, err := rec.Stop(ctx)
	assert.ErrorIs(t, err, domain.ErrUploadFailed)
	require.NotNil(t, note, "the clip survives a failed upload")
	assert.False(t, note.Uploaded())
	assert.Equal(t, audio, note.Clip)

	// A later retry succeeds with the retained bytes.
	require.NoError(t, rec.UploadClip(ctx, note))
	assert.True(t, note.Uploaded())
	assert.Equal(t, audio, up.stored)
}

func TestCaption(t *testing.T) {
	note := &voice.Note{Duration: 83 * time.Second}
	assert.Equal(t, "Voice note (1:23)", note.Caption())
}
