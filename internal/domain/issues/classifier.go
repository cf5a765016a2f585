package issues

import (
	"encoding/json"

	"github.com/bryanwahyu/shopwatch/internal/domain/scans"
)

// checkRule maps one detector check name to an issue type and its default
// severity. The table is fixed; unmapped checks are reported, never fatal.
type checkRule struct {
	Type     Type
	Severity Severity
	Title    string
}

var checkTable = map[string]checkRule{
	"purchase-control":   {TypeMissingPurchaseControl, SeverityHigh, "Purchase control missing or broken"},
	"checkout-flow":      {TypeBrokenCheckout, SeverityHigh, "Checkout flow broken"},
	"variant-selection":  {TypeVariantSelectionBroken, SeverityMedium, "Variant selection broken"},
	"script-errors":      {TypeScriptError, SeverityMedium, "JavaScript errors on page"},
	"template-integrity": {TypeTemplateError, SeverityMedium, "Template rendering error"},
	"product-images":     {TypeMissingImages, SeverityMedium, "Product images missing"},
	"product-price":      {TypeMissingPrice, SeverityHigh, "Product price missing"},
	"load-time":          {TypeSlowLoad, SeverityLow, "Page load too slow"},
}

// Classification is the classifier output for one pass.
type Classification struct {
	Candidates []Candidate
	// Passed lists issue types whose underlying check passed this pass; the
	// ledger resolves matching open issues. Driven by explicit pass verdicts
	// so a quick scan that skips a check never closes its issue.
	Passed []Type
	// Unmapped lists check names with no table entry, for logging.
	Unmapped []string
}

// Classify converts raw detector output into issue candidates. Pure function:
// same input, same output, no I/O.
//
// A fail at or above the confidence threshold yields a candidate at the
// check's default severity; a warning yields a low-severity candidate; a pass
// is a resolve signal. Anything below the threshold is dropped entirely —
// silence over false positives.
func Classify(findings []scans.RawFinding, threshold float64) Classification {
	var out Classification
	for _, f := range findings {
		rule, ok := checkTable[f.Check]
		if !ok {
			out.Unmapped = append(out.Unmapped, f.Check)
			continue
		}

		switch f.Verdict {
		case scans.VerdictPass:
			out.Passed = append(out.Passed, rule.Type)
		case scans.VerdictFail:
			if f.Confidence < threshold {
				continue
			}
			out.Candidates = append(out.Candidates, newCandidate(f, rule, rule.Severity))
		case scans.VerdictWarning:
			if f.Confidence < threshold {
				continue
			}
			out.Candidates = append(out.Candidates, newCandidate(f, rule, SeverityLow))
		}
	}
	return out
}

func newCandidate(f scans.RawFinding, rule checkRule, sev Severity) Candidate {
	return Candidate{
		Type:        rule.Type,
		Severity:    sev,
		Confidence:  f.Confidence,
		Verdict:     f.Verdict,
		Title:       rule.Title,
		Description: f.Message,
		Evidence:    encodeEvidence(f),
	}
}

func encodeEvidence(f scans.RawFinding) string {
	b, err := json.Marshal(map[string]any{
		"check":      f.Check,
		"verdict":    f.Verdict,
		"confidence": f.Confidence,
		"detail":     f.Detail,
	})
	if err != nil {
		return "{}"
	}
	return string(b)
}
