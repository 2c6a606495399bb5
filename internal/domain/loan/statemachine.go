package loan

// edges lists the forward transitions of the loan state machine.
var edges = map[Status][]Status{
	StatusRequested: {StatusMatched, StatusCancelled},
	StatusOffered:   {StatusMatched, StatusCancelled},
	StatusMatched:   {StatusFunded},
	StatusFunded:    {StatusRepaid},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusRequested, StatusOffered, StatusMatched, StatusFunded, StatusRepaid, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusRepaid || s == StatusCancelled
}

// IsEdge reports whether from -> to is a single transition of the state machine.
func IsEdge(from, to Status) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanAdvance reports whether to is from itself or reachable from it through
// forward edges. A record that missed intermediate projections (e.g. after a
// failed write) may jump several edges at once on reconcile, but never back.
func CanAdvance(from, to Status) bool {
	if from == to {
		return from.Valid()
	}
	seen := map[Status]bool{from: true}
	queue := []Status{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range edges[cur] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}
