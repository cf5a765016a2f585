package issues

import "github.com/bryanwahyu/shopwatch/internal/domain/scans"

// Candidate is the ephemeral output of the classifier; it is never persisted.
type Candidate struct {
	Type        Type
	Severity    Severity
	Confidence  float64
	Verdict     scans.Verdict
	Title       string
	Description string
	Evidence    string
}
