package errs

import sterrors "errors"

var (
	// ErrDuplicateJob is returned by the job tracker when a non-expired record
	// already exists for the requested id.
	ErrDuplicateJob = sterrors.New("scriptgen: job id already exists")

	// ErrUnknownJob is returned when a transition targets an id the tracker
	// does not hold.
	ErrUnknownJob = sterrors.New("scriptgen: unknown job id")

	// ErrBrokerUnavailable wraps transport-level failures while establishing
	// or holding the broker connection.
	ErrBrokerUnavailable = sterrors.New("scriptgen: broker unavailable")

	// ErrMalformedEvent marks an undecodable broker payload. Such events are
	// acknowledged and dropped; redelivery cannot fix them.
	ErrMalformedEvent = sterrors.New("scriptgen: malformed broker event")

	// ErrGeneration wraps failures from the generation backend.
	ErrGeneration = sterrors.New("scriptgen: generation failed")

	// ErrNotFound is returned by the document store when no document matches.
	ErrNotFound = sterrors.New("scriptgen: document not found")

	// ErrSessionNotDeliverable marks a session whose transport can no longer
	// accept frames; the registry evicts it after the broadcast pass.
	ErrSessionNotDeliverable = sterrors.New("scriptgen: session not deliverable")

	ErrHandlerRequired = sterrors.New("scriptgen: event handler is required")
	ErrQueueRequired   = sterrors.New("scriptgen: consume queue is required")
	ErrTopicRequired   = sterrors.New("scriptgen: publish topic is required")
	ErrGatewayClosed   = sterrors.New("scriptgen: gateway is closed")
)
