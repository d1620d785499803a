package ailink

import (
	"encoding/json"
	"errors"
)

// ErrMalformedResponse marks model output that is empty, not JSON, or does
// not satisfy the prompt's response schema.
var ErrMalformedResponse = errors.New("malformed model response")

// RawResponseError wraps an error with the raw response payload.
//
// Callers use Raw to replay the rejected reply in a repair attempt.
type RawResponseError struct {
	Err error
	Raw json.RawMessage
}

func (e *RawResponseError) Error() string {
	if e == nil || e.Err == nil {
		return "ailink error"
	}
	return e.Err.Error()
}

func (e *RawResponseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
