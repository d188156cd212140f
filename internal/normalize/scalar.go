package normalize

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Scalar holds any JSON scalar as text.  The supplier is inconsistent about
// quoting numbers and flags, so every such field is captured raw and parsed
// by the total helpers below.  A null or absent value leaves Valid false.
type Scalar struct {
	Raw   string
	Valid bool
}

// UnmarshalJSON accepts strings, numbers, booleans and null.  Objects and
// arrays are treated as absent rather than failing the whole document.
func (s *Scalar) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*s = Scalar{}
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	switch b[0] {
	case '"':
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = Scalar{Raw: strings.TrimSpace(str), Valid: true}
	case '{', '[':
		return nil
	default:
		*s = Scalar{Raw: string(b), Valid: true}
	}
	return nil
}

// String returns the raw text, empty when absent.
func (s Scalar) String() string {
	if !s.Valid {
		return ""
	}
	return s.Raw
}

// Int parses an integer.  Empty strings and non-numeric text are absent.
// Integral floats such as "7.0" are accepted.
func (s Scalar) Int() *int64 {
	if !s.Valid || s.Raw == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s.Raw, 10, 64); err == nil {
		return &n
	}
	if f, err := strconv.ParseFloat(s.Raw, 64); err == nil && f == float64(int64(f)) {
		n := int64(f)
		return &n
	}
	return nil
}

// PositiveInt is Int restricted to values above zero, which is how the
// supplier's identifiers behave; "0" means "not set".
func (s Scalar) PositiveInt() *int64 {
	n := s.Int()
	if n == nil || *n <= 0 {
		return nil
	}
	return n
}

// Flag parses "Y"/"N", "true"/"false" and "1"/"0".  Anything else is absent.
func (s Scalar) Flag() *bool {
	if !s.Valid {
		return nil
	}
	var v bool
	switch strings.ToLower(s.Raw) {
	case "y", "yes", "true", "1":
		v = true
	case "n", "no", "false", "0":
		v = false
	default:
		return nil
	}
	return &v
}

// Date parses YYYY-MM-DD, tolerating a trailing time component.
func (s Scalar) Date() *time.Time {
	if !s.Valid || len(s.Raw) < 10 {
		return nil
	}
	t, err := time.Parse("2006-01-02", s.Raw[:10])
	if err != nil || t.Year() < 1900 {
		return nil
	}
	return &t
}

// Decimal parses a money amount, rounded to cents.
func (s Scalar) Decimal() decimal.NullDecimal {
	if !s.Valid || s.Raw == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s.Raw, ",", ""))
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d.Round(2))
}

// IDList decodes either a JSON array of ids or a comma separated string.
// Non-numeric members are dropped; order is preserved.
type IDList []int64

func (l *IDList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*l = nil
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	var items []Scalar
	switch b[0] {
	case '[':
		if err := json.Unmarshal(b, &items); err != nil {
			return nil
		}
	case '"':
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		for _, p := range strings.Split(str, ",") {
			items = append(items, Scalar{Raw: strings.TrimSpace(p), Valid: true})
		}
	default:
		items = []Scalar{{Raw: string(b), Valid: true}}
	}
	for _, it := range items {
		if n := it.PositiveInt(); n != nil {
			*l = append(*l, *n)
		}
	}
	return nil
}

// decodeObject decodes a JSON object into raw members.  PHP encoders emit an
// empty list ("[]") for empty maps, and that is treated as an empty object
// just like null.
func decodeObject(raw json.RawMessage) map[string]json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
