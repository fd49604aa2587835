package domain

// Signal is the coarse market regime derived from the latest indicator row.
type Signal string

const (
	SignalBullish Signal = "Bullish"
	SignalBearish Signal = "Bearish"
	SignalNeutral Signal = "Neutral"
)

// Phase is the refresher's position in its Idle -> Fetching -> Updated|Failed cycle.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseFetching Phase = "fetching"
	PhaseUpdated  Phase = "updated"
	PhaseFailed   Phase = "failed"
)

// AttemptOutcome classifies a single refresh attempt for the attempt log.
type AttemptOutcome string

const (
	OutcomeSuccess     AttemptOutcome = "success"
	OutcomeUnavailable AttemptOutcome = "exchange_unavailable"
	OutcomeRateLimited AttemptOutcome = "rate_limited"
	OutcomeError       AttemptOutcome = "error"
)
