package completion

import (
	"errors"
	"fmt"
)

// ErrNoContent is returned when the provider answered successfully but the
// response carried no text.
var ErrNoContent = errors.New("completion returned no content")

// RemoteError wraps any failure talking to the provider.
type RemoteError struct {
	Provider string
	Err      error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s completion failed: %v", e.Provider, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// IsRemote reports whether err is a RemoteError.
func IsRemote(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote)
}

func remoteErr(provider string, err error) error {
	return &RemoteError{Provider: provider, Err: err}
}
