package broker

// RetryPolicy decides whether a generation attempt is kept or repeated based
// on the model's bad-case diagnostics. It never invokes the model itself.
type RetryPolicy struct {
	Enabled        bool
	MaxAttempts    int
	RatioThreshold float64
}

// RetryOutcome is the verdict for one evaluated attempt.
type RetryOutcome int

const (
	// RetryAccept keeps the current artifact.
	RetryAccept RetryOutcome = iota
	// RetryAgain repeats generation with identical parameters.
	RetryAgain
	// RetryExhausted keeps the last artifact after the attempt budget is
	// spent, regardless of its quality signal.
	RetryExhausted
)

// RetryState tracks the attempt counter for one request.
type RetryState struct {
	policy  RetryPolicy
	attempt int
}

// Start enters the first attempt. A max-attempts budget below one is treated
// as one.
func (p RetryPolicy) Start() *RetryState {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return &RetryState{policy: p, attempt: 1}
}

// Attempt reports the current attempt number, starting at 1.
func (s *RetryState) Attempt() int { return s.attempt }

// Evaluate applies the transition rule to the diagnostics of the current
// attempt. A severity ratio below the threshold accepts; at or above it the
// attempt is considered defective.
func (s *RetryState) Evaluate(badCase bool, ratio float64) RetryOutcome {
	if !s.policy.Enabled || !badCase || ratio < s.policy.RatioThreshold {
		return RetryAccept
	}
	if s.attempt < s.policy.MaxAttempts {
		s.attempt++
		return RetryAgain
	}
	return RetryExhausted
}
