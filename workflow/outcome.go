package workflow

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRetryable
	OutcomeTerminal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeTerminal:
		return "terminal"
	}
	return "unknown"
}

const (
	ReasonMalformed         = "malformed_notification"
	ReasonStall             = "allocation_stall"
	ReasonNonRetryable      = "non_retryable"
	ReasonUnknownBatch      = "unknown_batch"
	ReasonTransient         = "transient_failure"
	ReasonAttemptsExhausted = "attempts_exhausted"
	ReasonAlreadyDead       = "already_dead_lettered"
)

// Outcome tells the transport what to do with a delivery.
// Retryable asks for redelivery; Success and Terminal both acknowledge it.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
	Err    error
}

func Success() Outcome { return Outcome{Kind: OutcomeSuccess} }

func Retryable(reason string, err error) Outcome {
	return Outcome{Kind: OutcomeRetryable, Reason: reason, Err: err}
}

func Terminal(reason string, err error) Outcome {
	return Outcome{Kind: OutcomeTerminal, Reason: reason, Err: err}
}

func (o Outcome) ShouldAck() bool { return o.Kind != OutcomeRetryable }
