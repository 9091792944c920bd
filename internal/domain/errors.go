package domain

import "errors"

// Sentinel errors for the messaging core. Handlers map these to HTTP status
// codes with errors.Is; services wrap them with context via fmt.Errorf.
var (
	ErrUnauthorized       = errors.New("no authenticated identity")
	ErrForbidden          = errors.New("not a participant of this conversation")
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrAttachmentTooLarge = errors.New("attachment exceeds size limit")
	ErrUploadFailed       = errors.New("upload failed")
	ErrPermissionDenied   = errors.New("microphone permission denied")
	ErrDeviceUnavailable  = errors.New("capture device unavailable")
	ErrSendFailed         = errors.New("message send failed")

	// ErrSubscriptionLost marks a live feed dropped by the bus. Consumers see
	// it as a closed event channel and respond by resubscribing and
	// reconciling from the store.
	ErrSubscriptionLost = errors.New("subscription lost")
)
