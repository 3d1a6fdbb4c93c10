// Package signals mines fraud-signal keywords out of the opaque detector
// payload attached to evaluations. The payload shape belongs to the
// upstream detectors; this package only agrees on where the keyword lists
// live and never fails on payloads it does not recognize.
package signals

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// categories are the signal groups the detectors emit keyword lists under.
var categories = []string{"urgency", "financial_redirection", "impersonation"}

// Keywords returns the flagged keywords found in a detector payload. It
// reads fraud_signals.<category>.keywords for each known category and, when
// no categorized signals are present, falls back to the flat
// suspicious_phrases list. Malformed or empty payloads yield nothing.
func Keywords(detail json.RawMessage) []string {
	if len(detail) == 0 || !gjson.ValidBytes(detail) {
		return nil
	}

	var out []string
	for _, cat := range categories {
		list := gjson.GetBytes(detail, "fraud_signals."+cat+".keywords")
		for _, kw := range list.Array() {
			if s := kw.String(); s != "" {
				out = append(out, s)
			}
		}
	}
	if out != nil {
		return out
	}

	for _, kw := range gjson.GetBytes(detail, "suspicious_phrases").Array() {
		if s := kw.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}
