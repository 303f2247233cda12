package token

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// isoLayouts are the ISO-8601 forms accepted for string expiries, tried in order.
// Forms without a zone are interpreted as UTC.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseExpiry normalizes an expiry given as an ISO-8601 string, a Unix epoch
// in seconds (any integer kind, a float64 as decoded from JSON, or a string of
// digits), a time.Time, a *time.Time or an oauth2 token. ok is false when v
// carries no expiry: nil, an empty string, a zero time or a token without expiry.
func ParseExpiry(v any) (t time.Time, ok bool, err error) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return x, !x.IsZero(), nil
	case *time.Time:
		if x == nil {
			return time.Time{}, false, nil
		}
		return *x, !x.IsZero(), nil
	case oauth2.Token:
		return x.Expiry, !x.Expiry.IsZero(), nil
	case *oauth2.Token:
		if x == nil {
			return time.Time{}, false, nil
		}
		return x.Expiry, !x.Expiry.IsZero(), nil
	case string:
		return parseExpiryString(x)
	case int:
		return epoch(int64(x)), true, nil
	case int8:
		return epoch(int64(x)), true, nil
	case int16:
		return epoch(int64(x)), true, nil
	case int32:
		return epoch(int64(x)), true, nil
	case int64:
		return epoch(x), true, nil
	case uint:
		return epochUnsigned(uint64(x))
	case uint8:
		return epoch(int64(x)), true, nil
	case uint16:
		return epoch(int64(x)), true, nil
	case uint32:
		return epoch(int64(x)), true, nil
	case uint64:
		return epochUnsigned(x)
	case float32:
		return epochFloat(float64(x))
	case float64:
		return epochFloat(x)
	default:
		return time.Time{}, false, fmt.Errorf("unsupported expiry type %T", v)
	}
}

func parseExpiryString(s string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return epoch(n), true, nil
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unrecognized expiry %q", s)
}

func epoch(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func epochUnsigned(sec uint64) (time.Time, bool, error) {
	if sec > math.MaxInt64 {
		return time.Time{}, false, fmt.Errorf("expiry %d out of range", sec)
	}
	return epoch(int64(sec)), true, nil
}

func epochFloat(sec float64) (time.Time, bool, error) {
	if math.IsNaN(sec) || math.IsInf(sec, 0) || sec > math.MaxInt64 || sec < math.MinInt64 {
		return time.Time{}, false, fmt.Errorf("expiry %v out of range", sec)
	}
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC(), true, nil
}
