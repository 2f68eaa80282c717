// Package status maps trust scores to coarse marketplace statuses.
package status

// Status is the coarse trust classification shown to end users.
type Status string

// Known statuses, from least to most severe.
const (
	OK         Status = "ok"
	Warning    Status = "warning"
	Restricted Status = "restricted"
	Blocked    Status = "blocked"
)

// Score thresholds. A score at or above a threshold earns that status.
const (
	OKThreshold         = 70
	WarningThreshold    = 50
	RestrictedThreshold = 20
)

// Classify maps a score to a status by descending thresholds.
func Classify(value int) Status {
	switch {
	case value >= OKThreshold:
		return OK
	case value >= WarningThreshold:
		return Warning
	case value >= RestrictedThreshold:
		return Restricted
	default:
		return Blocked
	}
}

// Resolve applies the hard hold on top of the score-derived status.
// A held profile is never better than Restricted.
func Resolve(value int, hold bool) Status {
	derived := Classify(value)
	if hold && derived.Severity() < Restricted.Severity() {
		return Restricted
	}
	return derived
}

// Severity orders statuses; higher is worse. Unknown statuses return -1.
func (s Status) Severity() int {
	switch s {
	case OK:
		return 0
	case Warning:
		return 1
	case Restricted:
		return 2
	case Blocked:
		return 3
	default:
		return -1
	}
}

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	return s.Severity() >= 0
}

// Gated reports whether s keeps a user from taking or posting work.
func (s Status) Gated() bool {
	return s.Severity() >= Restricted.Severity()
}

func (s Status) String() string { return string(s) }
