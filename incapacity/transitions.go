package incapacity

// allowedTransitions is the workflow graph used in strict mode.
// REJECTED may go back to IN_PROCESS when the case is resubmitted.
var allowedTransitions = map[Status][]Status{
	StatusReported:    {StatusInProcess, StatusTranscribed, StatusRejected},
	StatusInProcess:   {StatusTranscribed, StatusAuthorized, StatusRejected},
	StatusTranscribed: {StatusAuthorized, StatusRejected},
	StatusAuthorized:  {StatusPaid, StatusRejected},
	StatusRejected:    {StatusInProcess},
	StatusPaid:        {StatusClosed},
	StatusClosed:      nil,
}

// CanTransition reports whether from -> to is in the workflow graph.
func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the statuses reachable from s in strict mode.
func AllowedTransitions(s Status) []Status {
	out := make([]Status, len(allowedTransitions[s]))
	copy(out, allowedTransitions[s])
	return out
}
