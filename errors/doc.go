// Package errors provides standardized error handling for ctcgateway components.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid
// (bad input or a request the gateway refused, do not retry) and Fatal
// (unrecoverable, stop the current flow). Callers branch on the class instead
// of matching error strings.
//
// # Wrapping
//
// All wrapping follows the format "component.method: action failed: cause":
//
//	if err := conn.Send(ctx, frame); err != nil {
//	    return errors.WrapTransient(err, "command", "Send", "write frame")
//	}
//
// # Gateway taxonomy
//
// Failures that callers need to tell apart are typed:
//
//   - TransportError: dial, read or write failed on the socket
//   - AuthenticationError: POST_LOGIN was refused or not confirmed
//   - CommandTimeoutError: no correlated response before the deadline
//   - CommandRejectedError: the gateway answered RTN_ERR
//   - AcquisitionTimeoutError: a reading stage was not observed in time
//   - AcquisitionFailedError: the gateway reported the reading could not start
//   - WaveformDecodeError: no decoding strategy produced valid samples
//
// Each type reports its own class, so IsTransient, IsInvalid and IsFatal work
// on them directly and through any number of fmt.Errorf("%w") layers:
//
//	var rejected *errors.CommandRejectedError
//	if stderrors.As(err, &rejected) {
//	    logger.Warn("gateway refused command", "attempt", rejected.Attempt, "reason", rejected.Reason)
//	}
//
// An empty sensor list is not an error; discovery reports it as a selection
// outcome.
package errors
