package synth

import "fmt"

// NetworkError reports that the speech backend could not be reached, timed
// out, or answered with a non-2xx status. Status is zero for transport-level
// failures that never produced a response.
type NetworkError struct {
	// Status is the HTTP status code of the response, or zero when the
	// request failed before a response arrived.
	Status int
	// Message is a short excerpt of the error response body, if any.
	Message string
	// Err is the underlying transport error, if any.
	Err error
}

func (e *NetworkError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("synth: backend returned status %d: %s", e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("synth: backend returned status %d", e.Status)
	default:
		return fmt.Sprintf("synth: network error while fetching speech audio: %v", e.Err)
	}
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SynthesisError reports an unexpected failure inside the synthesis path that
// is neither a network problem nor a cancellation. The underlying cause is
// preserved for logs but the message stays deliberately generic.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return "synth: speech synthesis failed"
}

func (e *SynthesisError) Unwrap() error { return e.Err }
