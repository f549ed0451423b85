package transcribe

import (
	"fmt"
)

// ModelLoadError: neither the primary nor the fallback model could be
// loaded. The service keeps no poisoned state behind it: the next request
// triggers a fresh load attempt.
type ModelLoadError struct {
	PrimaryModelID  string
	PrimaryErr      error
	FallbackModelID string
	FallbackErr     error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf(
		"unable to load either model: %s: %v; %s: %v",
		e.PrimaryModelID, e.PrimaryErr, e.FallbackModelID, e.FallbackErr,
	)
}

func (e *ModelLoadError) Unwrap() []error {
	return []error{e.PrimaryErr, e.FallbackErr}
}

// DecodeError: the payload claimed to be a WAV container but did not
// parse as one. Recoverable: the raw bytes are handed to the model as-is.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("unable to decode the audio payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// InferenceError: the model call itself failed, after every known input
// shape was tried.
type InferenceError struct {
	ModelID string
	Err     error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("model %q failed to transcribe: %v", e.ModelID, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}
