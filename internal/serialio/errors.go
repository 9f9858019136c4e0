package serialio

import (
	"errors"
	"fmt"
)

// ErrOpenFailed matches every *OpenError.
var ErrOpenFailed = errors.New("failed to open local transport")

// OpenError reports a local endpoint that could not be opened or configured.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%v: %v", ErrOpenFailed, e.Err)
	}
	return fmt.Sprintf("%v %q: %v", ErrOpenFailed, e.Path, e.Err)
}

func (e *OpenError) Unwrap() []error {
	return []error{ErrOpenFailed, e.Err}
}

// Remediation tells the operator how to get a usable endpoint.
func (e *OpenError) Remediation() string {
	return "Please make sure to call 'socat -d -d pty,raw,echo=0 pty,raw,echo=0' and pass one of the printed " +
		"device paths as --port, or use --pty to let the bridge create the pseudo-terminal itself."
}
