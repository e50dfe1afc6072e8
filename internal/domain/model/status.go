package model

// Status is the room lifecycle state.
type Status string

const (
	StatusWaiting        Status = "waiting"
	StatusClueCollection Status = "clue-collection"
	StatusRevealing      Status = "revealing"
	StatusFinished       Status = "finished"
)

// next lists the forward transitions. Reset to waiting is allowed from any
// state and is not listed here.
var next = map[Status]Status{
	StatusWaiting:        StatusClueCollection,
	StatusClueCollection: StatusRevealing,
	StatusRevealing:      StatusFinished,
	StatusFinished:       StatusWaiting,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := next[s]
	return ok
}

// CanTransition reports whether a room may move from s to to.
func (s Status) CanTransition(to Status) bool {
	if to == StatusWaiting {
		return s.Valid()
	}
	n, ok := next[s]
	return ok && n == to
}

// In reports whether s is one of allowed.
func (s Status) In(allowed ...Status) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}

// Revealed reports whether dealt values are public in this state.
func (s Status) Revealed() bool {
	return s == StatusRevealing || s == StatusFinished
}
