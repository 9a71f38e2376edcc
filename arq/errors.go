package arq

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformedFrame is returned by Decode for datagrams shorter than
	// the frame header.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrTransferFailed is wrapped by TransferFailedError when the sender's
	// retry budget runs out.
	ErrTransferFailed = errors.New("transfer failed")

	errBadConfig = errors.New("bad config")
)

// TransferFailedError reports which frame the sender gave up on.
type TransferFailedError struct {
	Phase    State
	Seq      uint32
	Attempts int
	Elapsed  time.Duration
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("%s: no ack for seq %d in %s after %d attempts (%s)",
		ErrTransferFailed, e.Seq, e.Phase, e.Attempts, e.Elapsed.Round(time.Millisecond))
}

func (e *TransferFailedError) Unwrap() error {
	return ErrTransferFailed
}
