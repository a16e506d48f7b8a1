package types

import (
	"errors"
	"fmt"
)

// ErrBusy is returned when an execution attempt cannot acquire the exclusive
// execution guard. It is immediate: callers retry on the next scan cycle
// rather than queueing.
var ErrBusy = errors.New("another execution in flight")

// DecodeError reports a malformed or undersized account buffer. It is
// recoverable and scoped to a single account; scans count these and move on.
type DecodeError struct {
	Protocol Protocol
	Reason   string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s decode: %s", e.Protocol, e.Reason)
}

// DerivationError reports a failed program-address derivation. It is fatal
// to the execution attempt that needed the address, nothing more.
type DerivationError struct {
	Tag string
	Err error
}

func (e *DerivationError) Error() string {
	return fmt.Sprintf("derive %q: %v", e.Tag, e.Err)
}

func (e *DerivationError) Unwrap() error { return e.Err }

// SimulationRejected means the on-chain program declined the transaction
// during simulation. The transaction was never broadcast; no funds moved.
type SimulationRejected struct {
	Reason string
	Logs   []string
}

func (e *SimulationRejected) Error() string {
	return fmt.Sprintf("simulation rejected: %s", e.Reason)
}

// SubmissionError reports a transport or confirmation failure after
// broadcast. Unlike SimulationRejected the outcome is uncertain: the
// transaction may have landed.
type SubmissionError struct {
	Stage string // "send" or "confirm"
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission %s: %v", e.Stage, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
