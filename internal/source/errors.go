package source

import "fmt"

// IndexUnavailableError is returned when the local tile index cannot be used.
type IndexUnavailableError struct {
	Path string
	Err  error
}

func (e *IndexUnavailableError) Error() string {
	return fmt.Sprintf("tile index %s unavailable: %v", e.Path, e.Err)
}

func (e *IndexUnavailableError) Unwrap() error { return e.Err }

// RemoteIndexError is returned when a remote listing cannot be fetched or parsed.
type RemoteIndexError struct {
	URL string
	Err error
}

func (e *RemoteIndexError) Error() string {
	return fmt.Sprintf("remote index %s: %v", e.URL, e.Err)
}

func (e *RemoteIndexError) Unwrap() error { return e.Err }
