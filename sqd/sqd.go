// Package sqd maps Likert answers onto the Service Quality Dimension
// ordinal scale and tags question codes by section.
package sqd

import "strings"

// weights is the fixed ordinal table for SQD option values.
var weights = map[string]float64{
	"SD":  1, // Strongly Disagree
	"D":   2, // Disagree
	"NAD": 3, // Neither Agree nor Disagree
	"A":   4, // Agree
	"SA":  5, // Strongly Agree
}

// Weight resolves an option value to its ordinal weight. Unknown values
// report ok=false and produce no rating.
func Weight(optionValue string) (w float64, ok bool) {
	w, ok = weights[optionValue]
	return
}

// IsSQD reports whether a question code belongs to the service-quality
// section (SQD0, SQD1, ...).
func IsSQD(questionCode string) bool {
	return strings.HasPrefix(questionCode, "SQD")
}

// IsCC reports whether a question code belongs to the Citizen's Charter
// section.
func IsCC(questionCode string) bool {
	return strings.HasPrefix(questionCode, "CC")
}
