package core

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers pick degrade-or-abort per category instead of
// that decision being buried at the failure site:
//
//	ValidationError: bad input, surfaced immediately, pipeline never starts
//	NotFoundError:   unknown video/content on read, not retried
//	CapabilityError: an external capability failed; call sites degrade
//	PipelineError:   fatal for a single video run, recorded as failed

type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

type NotFoundError struct {
	Kind string // "video", "content", ...
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found: %s", e.Kind, e.ID) }

func NotFound(kind, id string) error { return &NotFoundError{Kind: kind, ID: id} }

// CapabilityError wraps a failure of one of the external capabilities
// (embedding, generation, vision, decode, store, captions).
type CapabilityError struct {
	Capability string
	Err        error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s capability: %v", e.Capability, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

func Capability(name string, err error) error {
	if err == nil {
		return nil
	}
	return &CapabilityError{Capability: name, Err: err}
}

// PipelineError marks a stage failure that aborts a single video run.
// Other runs and the process itself are unaffected.
type PipelineError struct {
	VideoID string
	Stage   string
	Err     error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline stage %s for video %s: %v", e.Stage, e.VideoID, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
