package domain

// transitions enumerates every legal (from, to) pair in the diagram in
// spec §4.2. The ledger store is the only thing allowed to consult this
// table; everything else goes through LedgerStore.Transition.
var transitions = map[JobStatus]map[JobStatus]bool{
	JobQueued: {
		JobRunning:  true,
		JobCanceled: true,
	},
	JobRunning: {
		JobSucceeded: true,
		JobFailed:    true,
		JobCanceled:  true,
	},
	JobFailed: {
		JobQueued:     true,
		JobDeadLetter: true,
	},
}

// ValidTransition reports whether moving from -> to is legal per the
// state machine, or whether from == to (a same-status progress update,
// always permitted).
func ValidTransition(from, to JobStatus) bool {
	if from == to {
		return true
	}
	next, ok := transitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// RequiresDeadLetter reports whether a failed->queued retry must instead
// go to dead_letter, per spec §4.2: "Moving to dead_letter is required
// when attempt >= max_attempts on a failed transition."
func RequiresDeadLetter(attempt, maxAttempts int) bool {
	return attempt >= maxAttempts
}
