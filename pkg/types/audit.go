package types

// AuditEntry records one applied substitution for traceability. MatchCount
// may be zero when the original text was already consumed by a longer
// replacement; that is a reportable fact, not an error.
type AuditEntry struct {
	Original    string     `json:"original"`
	Replacement string     `json:"replacement"`
	MatchCount  int        `json:"match_count"`
	Type        EntityType `json:"type,omitempty"`
	Source      Source     `json:"source,omitempty"`
}

// ResolutionRejection records a candidate the overlap resolver discarded,
// with the id of the accepted entity that subsumed it.
type ResolutionRejection struct {
	Entity     Entity `json:"entity"`
	SubsumedBy string `json:"subsumed_by"`
	Reason     string `json:"reason"`
}
