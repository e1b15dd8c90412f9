package serving

import "errors"

// ErrQueueFull signals admission rejection under backpressure. Client-fault:
// the caller may retry later. Mapped to 429 by the HTTP layer.
var ErrQueueFull = errors.New("admission queue full")

// IsQueueFull reports whether err indicates backpressure.
func IsQueueFull(err error) bool { return errors.Is(err, ErrQueueFull) }

// ErrClosed signals submission after shutdown began.
var ErrClosed = errors.New("serving pool closed")

// inferenceFailure wraps an error raised by the engine call. Server-fault;
// never retried automatically.
type inferenceFailure struct{ err error }

func (e inferenceFailure) Error() string { return "inference failed: " + e.err.Error() }
func (e inferenceFailure) Unwrap() error { return e.err }

// InferenceFailure constructs an inferenceFailure.
func InferenceFailure(err error) error { return inferenceFailure{err: err} }

// IsInferenceFailure reports whether err came from a failed engine call.
func IsInferenceFailure(err error) bool {
	_, ok := err.(inferenceFailure)
	return ok
}
