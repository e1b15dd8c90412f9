package lifecycle

// notLoadedError signals that a model has no live handle and auto-load is
// disabled. Client-fault class.
type notLoadedError struct{ id string }

func (e notLoadedError) Error() string { return "model not loaded: " + e.id }

// ErrNotLoaded constructs a notLoadedError for the given model id.
func ErrNotLoaded(id string) error { return notLoadedError{id: id} }

// IsNotLoaded reports whether err indicates a cold model with auto-load off.
func IsNotLoaded(err error) bool {
	_, ok := err.(notLoadedError)
	return ok
}

// modelNotFoundError signals a model id absent from the registry.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

// ErrModelNotFound constructs a modelNotFoundError.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether err indicates a missing model id.
func IsModelNotFound(err error) bool {
	_, ok := err.(modelNotFoundError)
	return ok
}

// loadFailure wraps an engine error surfaced while loading a model.
// Server-fault class; never retried automatically.
type loadFailure struct {
	id  string
	err error
}

func (e loadFailure) Error() string { return "load failed: " + e.id + ": " + e.err.Error() }
func (e loadFailure) Unwrap() error { return e.err }

// LoadFailure constructs a loadFailure for the given model id.
func LoadFailure(id string, err error) error { return loadFailure{id: id, err: err} }

// IsLoadFailure reports whether err came from a failed model load.
func IsLoadFailure(err error) bool {
	_, ok := err.(loadFailure)
	return ok
}
