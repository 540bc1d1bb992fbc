package dispatch

import "time"

// Schedule is the retry backoff ladder. The delay for a failed attempt is
// indexed by its zero-based attempt number; attempts past the end stay at
// the final step.
var Schedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// NextDelay returns how long to wait after the given attempt failed.
// The delay is advisory: it governs when the caller should next invoke
// Drain, nothing inside the dispatcher sleeps on it.
func NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(Schedule) {
		attempt = len(Schedule) - 1
	}
	return Schedule[attempt]
}
