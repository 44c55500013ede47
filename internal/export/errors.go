package export

import (
	"errors"
	"fmt"
)

// Kind classifies export failures. Every kind is fatal to the export.
type Kind int

const (
	KindInvalidConfiguration Kind = iota + 1
	KindUnsupportedEncoderConfiguration
	KindSourceNotReady
	KindRenderFailure
	KindFrameCaptureFailure
	KindEncodeFailure
	KindImageEncodeFailure
	KindMuxFailure
	KindCanceled
)

var (
	ErrInvalidConfiguration            = errors.New("invalid export configuration")
	ErrUnsupportedEncoderConfiguration = errors.New("unsupported encoder configuration")
	ErrSourceNotReady                  = errors.New("capture source not ready")
	ErrRenderFailure                   = errors.New("render failed")
	ErrFrameCaptureFailure             = errors.New("frame capture failed")
	ErrEncodeFailure                   = errors.New("video encode failed")
	ErrImageEncodeFailure              = errors.New("image encode failed")
	ErrMuxFailure                      = errors.New("container write failed")
	ErrCanceled                        = errors.New("export canceled")
)

var kindSentinels = map[Kind]error{
	KindInvalidConfiguration:            ErrInvalidConfiguration,
	KindUnsupportedEncoderConfiguration: ErrUnsupportedEncoderConfiguration,
	KindSourceNotReady:                  ErrSourceNotReady,
	KindRenderFailure:                   ErrRenderFailure,
	KindFrameCaptureFailure:             ErrFrameCaptureFailure,
	KindEncodeFailure:                   ErrEncodeFailure,
	KindImageEncodeFailure:              ErrImageEncodeFailure,
	KindMuxFailure:                      ErrMuxFailure,
	KindCanceled:                        ErrCanceled,
}

func (k Kind) String() string {
	if err, ok := kindSentinels[k]; ok {
		return err.Error()
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// noFrame marks errors not tied to a frame.
const noFrame = -1

// Error is returned by every failed export. errors.Is matches it against the
// Err* sentinel of its kind.
type Error struct {
	Kind Kind
	// Frame is the frame index the failure belongs to, or -1.
	Frame int
	Err   error
}

func newError(kind Kind, frame int, err error) *Error {
	return &Error{Kind: kind, Frame: frame, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Frame >= 0 {
		msg = fmt.Sprintf("%s at frame %d", msg, e.Frame)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// KindOf returns the kind of an export error, or 0 when err is not one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
