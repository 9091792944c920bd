// Package voice captures, encodes and uploads audio clips. The capture
// device is exclusive: one recording per recorder at a time.
package voice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"farmchat/internal/attach"
	"farmchat/internal/domain"
)

// CaptureDevice acquires exclusive microphone access. Acquire fails with
// domain.ErrPermissionDenied or domain.ErrDeviceUnavailable.
type CaptureDevice interface {
	Acquire(ctx context.Context) (CaptureSession, error)
}

// CaptureSession streams encoded audio until closed. Read returns io.EOF
// once the session is closed and drained.
type CaptureSession interface {
	io.Reader
	ContentType() string
	Close() error
}

// Note is a finalized voice clip. Attachment is set once the upload
// succeeded; until then Clip retains the audio so nothing is lost when the
// upload fails and the caller wants to retry.
type Note struct {
	Attachment  domain.Attachment
	Duration    time.Duration
	Clip        []byte
	ContentType string
}

// Uploaded reports whether the clip has a blob reference.
func (n *Note) Uploaded() bool { return n.Attachment.URL != "" }

// Caption renders the human-readable text a voice message carries.
func (n *Note) Caption() string {
	secs := int(n.Duration.Round(time.Second).Seconds())
	return fmt.Sprintf("Voice note (%d:%02d)", secs/60, secs%60)
}

// Recorder drives the Idle -> Recording -> {Stopped, Canceled} state machine.
type Recorder struct {
	device   CaptureDevice
	pipeline *attach.Pipeline
	logger   *slog.Logger

	mu     sync.Mutex
	active *recording
}

type recording struct {
	startedAt time.Time
	session   CaptureSession

	bufMu sync.Mutex
	buf   bytes.Buffer
	done  chan struct{}
}

func NewRecorder(device CaptureDevice, pipeline *attach.Pipeline, logger *slog.Logger) *Recorder {
	return &Recorder{device: device, pipeline: pipeline, logger: logger}
}

// Recording reports whether a capture is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Start acquires the microphone and begins capturing. A second Start while
// already recording is a no-op returning the existing session's start time.
func (r *Recorder) Start(ctx context.Context) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return r.active.startedAt, nil
	}

	session, err := r.device.Acquire(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("acquire capture device: %w", err)
	}

	rec := &recording{
		startedAt: time.Now(),
		session:   session,
		done:      make(chan struct{}),
	}
	go rec.drain()
	r.active = rec
	return rec.startedAt, nil
}

func (rec *recording) drain() {
	defer close(rec.done)
	chunk := make([]byte, 4096)
	for {
		n, err := rec.session.Read(chunk)
		if n > 0 {
			rec.bufMu.Lock()
			rec.buf.Write(chunk[:n])
			rec.bufMu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Cancel discards the captured audio and releases the microphone. No side
// effect on any conversation. No-op when idle.
func (r *Recorder) Cancel() error {
	r.mu.Lock()
	rec := r.active
	r.active = nil
	r.mu.Unlock()

	if rec == nil {
		return nil
	}
	err := rec.session.Close()
	<-rec.done
	if err != nil {
		return fmt.Errorf("close capture session: %w", err)
	}
	return nil
}

// Stop finalizes the clip, releases the microphone and uploads the audio.
// On upload failure the returned Note still carries the clip bytes together
// with the error, so the caller can retry with UploadClip or discard.
func (r *Recorder) Stop(ctx context.Context) (*Note, error) {
	r.mu.Lock()
	rec := r.active
	r.active = nil
	r.mu.Unlock()

	if rec == nil {
		return nil, fmt.Errorf("%w: no active recording", domain.ErrInvalidInput)
	}

	duration := time.Since(rec.startedAt)
	if err := rec.session.Close(); err != nil && r.logger != nil {
		r.logger.Warn("close capture session", "err", err)
	}
	<-rec.done

	rec.bufMu.Lock()
	clip := append([]byte(nil), rec.buf.Bytes()...)
	rec.bufMu.Unlock()

	note := &Note{
		Duration:    duration,
		Clip:        clip,
		ContentType: rec.session.ContentType(),
	}
	if err := r.UploadClip(ctx, note); err != nil {
		return note, err
	}
	return note, nil
}

// UploadClip uploads (or re-uploads) a stopped clip and fills the
// attachment reference. The clip bytes are kept either way.
func (r *Recorder) UploadClip(ctx context.Context, note *Note) error {
	contentType := note.ContentType
	if contentType == "" {
		contentType = "audio/webm"
	}
	att, err := r.pipeline.Upload(ctx, attach.File{
		Name:        "voice-" + uuid.NewString() + ".webm",
		ContentType: contentType,
		Data:        note.Clip,
	})
	if err != nil {
		return err
	}
	att.Kind = domain.AttachmentVoice
	att.DurationMS = note.Duration.Milliseconds()
	note.Attachment = att
	return nil
}
