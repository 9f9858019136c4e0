package relay

import (
	"errors"
	"fmt"
)

// ErrEndOfStream reports that the local endpoint reached end of stream. It is a clean
// termination, not a failure.
var ErrEndOfStream = errors.New("local endpoint reached end of stream")

// Direction of a relay flow
type Direction string

const (
	// Inbound flows from the peripheral to the local endpoint
	Inbound Direction = "inbound"
	// Outbound flows from the local endpoint to the peripheral
	Outbound Direction = "outbound"
)

// RelayIOError is an unrecoverable read or write failure of one flow.
type RelayIOError struct {
	Direction Direction
	Err       error
}

func (e *RelayIOError) Error() string {
	return fmt.Sprintf("%s relay I/O failed: %v", e.Direction, e.Err)
}

func (e *RelayIOError) Unwrap() error {
	return e.Err
}
