package normalize

import (
	"strconv"
	"strings"
	"time"

	"github.com/trialops/dqi-engine/internal/model"
)

// normalizeCol lowercases and strips a header for cross-study column
// matching. "Site ID" → "site_id", "# Days Outstanding" → "#_days_outstanding".
func normalizeCol(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

// columnSet builds a normalized column name → original name map over a
// raw row's keys.
func columnSet(row model.RawRow) map[string]string {
	m := make(map[string]string, len(row))
	for col := range row {
		m[normalizeCol(col)] = col
	}
	return m
}

// resolveColumn returns the first alias present in the column set.
func resolveColumn(cols map[string]string, aliases []string) (string, bool) {
	for _, a := range aliases {
		if orig, ok := cols[normalizeCol(a)]; ok {
			return orig, true
		}
	}
	return "", false
}

// nullTokens are cell values that mean "no value" rather than a literal.
var nullTokens = map[string]bool{
	"": true, "na": true, "n/a": true, "nan": true,
	"-": true, "--": true, "null": true, "none": true,
}

// isNullCell reports whether a raw cell should be treated as empty.
func isNullCell(s string) bool {
	return nullTokens[strings.ToLower(strings.TrimSpace(s))]
}

// parseNumber coerces a raw cell to a float64. Thousands separators,
// percent signs, and surrounding whitespace are tolerated.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if isNullCell(s) {
		return 0, false
	}
	pct := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if pct {
		v /= 100
	}
	return v, true
}

// dateLayouts are tried in order when coercing date cells. tealeg renders
// date-formatted cells through these shapes across the study exports.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"01-02-06",
	"1/2/06",
	"01/02/2006",
	"1/2/2006",
	"02-Jan-2006",
	"2-Jan-06",
	"Jan 2, 2006",
	time.RFC3339,
}

// parseDate coerces a raw cell to a UTC date.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if isNullCell(s) {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	// Excel serial date numbers survive in some exports.
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 59 && serial < 200000 {
		epoch := time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)
		return epoch.AddDate(0, 0, int(serial)), true
	}
	return time.Time{}, false
}

// parseBoolYN reports whether a cell is an affirmative flag.
func parseBoolYN(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "y" || s == "yes" || s == "true" || s == "1"
}

// containsFold reports whether substr occurs in s, case-insensitively.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
