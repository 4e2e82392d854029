package equipment

import (
	"math"
	"strconv"
	"strings"
)

// missingTokens are cell values read as "no value" rather than as bad data.
var missingTokens = map[string]struct{}{
	"nan": {}, "na": {}, "n/a": {}, "null": {}, "none": {}, "-": {},
}

func isMissingToken(s string) bool {
	_, ok := missingTokens[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// parseNumeric accepts plain and locale-formatted numbers ("1.234,5",
// "1,234.5", "12 500"). The decimal separator is whichever of ',' or '.'
// appears last; the other one is dropped as a thousands separator.
func parseNumeric(s string) (float64, bool) {
	raw := strings.ReplaceAll(strings.TrimSpace(s), "\u00A0", " ")
	raw = strings.ReplaceAll(raw, " ", "")
	if raw == "" {
		return 0, false
	}
	dec := '.'
	cpos := strings.LastIndex(raw, ",")
	dpos := strings.LastIndex(raw, ".")
	if cpos >= 0 && (dpos < 0 || cpos > dpos) {
		// a lone comma followed by exactly three digits reads as thousands
		if dpos < 0 && strings.Count(raw, ",") == 1 && len(raw)-cpos-1 == 3 {
			dec = '.'
		} else {
			dec = ','
		}
	}
	if dec == ',' {
		raw = strings.ReplaceAll(raw, ".", "")
		raw = strings.ReplaceAll(raw, ",", ".")
	} else {
		raw = strings.ReplaceAll(raw, ",", "")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
