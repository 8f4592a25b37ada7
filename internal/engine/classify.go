package engine

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ── TypeClassifier ─────────────────────────────────────────
// Classifies a single raw scalar into one of the eight FieldTypes and
// normalizes its representation. Pure functions, no errors: anything
// unrecognized falls through to string.

var (
	integerRe = regexp.MustCompile(`^[+-]?\d+$`)
	floatRe   = regexp.MustCompile(`^[+-]?(\d+\.\d*|\.\d+|\d+)([eE][+-]?\d+)?$`)
	emailRe   = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	urlRe     = regexp.MustCompile(`^(https?://|www\.)\S+$`)
)

// dateLayouts maps a shape check onto the Go layout used to parse it.
// Matching dates are canonicalized to YYYY-MM-DD.
var dateLayouts = []struct {
	re     *regexp.Regexp
	layout string
}{
	{regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`), "2006-01-02"},
	{regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`), "02/01/2006"},
	{regexp.MustCompile(`^\d{2}-\d{2}-\d{4}$`), "02-01-2006"},
}

var nullTokens = map[string]struct{}{
	"null": {}, "none": {}, "n/a": {},
}

var boolTokens = map[string]bool{
	"true": true, "yes": true, "1": true,
	"false": false, "no": false, "0": false,
}

// Classify detects the semantic type of a raw value and normalizes it
// against that type. Detection order is fixed so specific patterns are
// not shadowed by looser ones: null, boolean, integer, float, email,
// url, date, string.
func Classify(raw any) (FieldType, any) {
	t := Detect(raw)
	return t, Normalize(raw, t)
}

// Detect returns the semantic type of a raw value without normalizing.
func Detect(raw any) FieldType {
	if isNull(raw) {
		return TypeNull
	}
	switch v := raw.(type) {
	case bool:
		return TypeBoolean
	case int, int32, int64:
		return TypeInteger
	case float32:
		return detectFloat(float64(v))
	case float64:
		return detectFloat(v)
	}

	s := strings.TrimSpace(stringify(raw))
	if _, ok := boolTokens[strings.ToLower(s)]; ok {
		return TypeBoolean
	}
	if integerRe.MatchString(s) {
		return TypeInteger
	}
	if floatRe.MatchString(s) {
		return TypeFloat
	}
	if emailRe.MatchString(s) {
		return TypeEmail
	}
	if urlRe.MatchString(s) {
		return TypeURL
	}
	for _, d := range dateLayouts {
		if d.re.MatchString(s) {
			if _, err := time.Parse(d.layout, s); err == nil {
				return TypeDate
			}
		}
	}
	return TypeString
}

// detectFloat distinguishes JSON numbers that carry no fraction.
// Integral values outside the int64 range stay floats; converting them
// would wrap at the boundary.
func detectFloat(f float64) FieldType {
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return TypeFloat
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return TypeFloat
	}
	return TypeInteger
}

// Normalize coerces a raw value to the representation of the given
// field type. A value that cannot be coerced (a stray string in an
// integer-resolved field) is kept as its trimmed string form rather
// than raising — malformed input is never fatal.
func Normalize(raw any, t FieldType) any {
	if isNull(raw) {
		return nil
	}
	s := strings.TrimSpace(stringify(raw))

	switch t {
	case TypeNull:
		return nil
	case TypeBoolean:
		if b, ok := raw.(bool); ok {
			return b
		}
		return boolTokens[strings.ToLower(s)]
	case TypeInteger:
		n, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			return n
		}
		if errors.Is(err, strconv.ErrRange) {
			// Beyond int64; converting would wrap, so keep the text form.
			return s
		}
		// Handle "42.0" and scientific forms that still denote integers.
		if f, ferr := strconv.ParseFloat(s, 64); ferr == nil {
			if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
				return int64(f)
			}
			return f
		}
		return s
	case TypeFloat:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return s
	case TypeEmail:
		return strings.ToLower(s)
	case TypeURL:
		return s
	case TypeDate:
		for _, d := range dateLayouts {
			if d.re.MatchString(s) {
				if dt, err := time.Parse(d.layout, s); err == nil {
					return dt.Format("2006-01-02")
				}
			}
		}
		return s
	case TypeString:
		return s
	}
	return s
}

// mergeTypes resolves the field type for two conflicting observations.
// null never dominates; mixed integer/float widens to float; boolean
// yields to a numeric observation (ambiguous "1"/"0" tokens); any
// other mix degrades to string, which can represent every value.
func mergeTypes(a, b FieldType) FieldType {
	if a == b {
		return a
	}
	if a == TypeNull {
		return b
	}
	if b == TypeNull {
		return a
	}
	if isNumeric(a) && isNumeric(b) {
		return TypeFloat
	}
	if a == TypeBoolean && isNumeric(b) {
		return b
	}
	if b == TypeBoolean && isNumeric(a) {
		return a
	}
	return TypeString
}

func isNumeric(t FieldType) bool {
	return t == TypeInteger || t == TypeFloat
}

// isNull reports whether a raw value is absent-equivalent: nil, empty
// or whitespace-only string, or a recognized null token.
func isNull(raw any) bool {
	if raw == nil {
		return true
	}
	s, ok := raw.(string)
	if !ok {
		return false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	_, isToken := nullTokens[strings.ToLower(s)]
	return isToken
}

// stringify renders a raw scalar in its canonical text form. Floats
// that carry no fraction render without one, so a JSON 25 and a CSV
// "25" classify identically.
func stringify(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		return n
	case bool:
		return strconv.FormatBool(n)
	case int:
		return strconv.Itoa(n)
	case int32:
		return strconv.FormatInt(int64(n), 10)
	case int64:
		return strconv.FormatInt(n, 10)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
