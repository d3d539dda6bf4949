package delivery

import "time"

// Decision is what a worker does with a queued job on this poll.
type Decision int

const (
	DecisionSkip Decision = iota
	DecisionAttempt
	DecisionResetAndAttempt
)

func (d Decision) String() string {
	switch d {
	case DecisionAttempt:
		return "attempt"
	case DecisionResetAndAttempt:
		return "reset_and_attempt"
	default:
		return "skip"
	}
}

// RetryPolicy bounds immediate retries and then falls back to a slow tail.
type RetryPolicy struct {
	RetryDelay time.Duration
	MaxRetries int
	Cooldown   time.Duration
}

// DefaultRetryPolicy retries three times a minute apart, then hourly.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{RetryDelay: 60 * time.Second, MaxRetries: 3, Cooldown: time.Hour}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.RetryDelay <= 0 {
		p.RetryDelay = def.RetryDelay
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = def.MaxRetries
	}
	if p.Cooldown <= 0 {
		p.Cooldown = def.Cooldown
	}
	return p
}

// Decide classifies job at now. Jobs never leave the queue through this policy.
func (p RetryPolicy) Decide(job Job, now time.Time) Decision {
	p = p.normalized()
	switch job.Status {
	case StatusPending:
		return DecisionAttempt
	case StatusFailed:
		elapsed := now.Sub(job.LastAttempt)
		if job.RetryCount >= p.MaxRetries {
			if elapsed > p.Cooldown {
				return DecisionResetAndAttempt
			}
			return DecisionSkip
		}
		if elapsed > p.RetryDelay {
			return DecisionAttempt
		}
		return DecisionSkip
	default:
		return DecisionSkip
	}
}

// DueWindow bounds which failed jobs a poll may pick up. A failed job under
// MaxRetries is due once it last ran before RetryBefore; an exhausted one once
// it last ran before ResetBefore.
type DueWindow struct {
	MaxRetries  int
	RetryBefore time.Time
	ResetBefore time.Time
}

// DueAt returns the window for a poll at now.
func (p RetryPolicy) DueAt(now time.Time) DueWindow {
	p = p.normalized()
	return DueWindow{
		MaxRetries:  p.MaxRetries,
		RetryBefore: now.Add(-p.RetryDelay),
		ResetBefore: now.Add(-p.Cooldown),
	}
}

// Admits reports whether job is due. It agrees with Decide at the same instant.
func (w DueWindow) Admits(job Job) bool {
	switch job.Status {
	case StatusPending:
		return true
	case StatusFailed:
		if job.RetryCount >= w.MaxRetries {
			return job.LastAttempt.Before(w.ResetBefore)
		}
		return job.LastAttempt.Before(w.RetryBefore)
	default:
		return false
	}
}
