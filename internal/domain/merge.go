package domain

// DuplicateGroup is a transient set of cases sharing a normalized
// (customer phone, channel phone) key. Candidates are ordered oldest first.
type DuplicateGroup struct {
	CustomerPhone string
	ChannelPhone  string
	Survivor      Case
	Candidates    []Case
}
