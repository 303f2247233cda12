package token

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestParseExpiry(t *testing.T) {
	t.Parallel()

	ref := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	refUnix := ref.Unix()

	var fromJSON map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"expires_at": 1893553445}`), &fromJSON))

	tests := []struct {
		name   string
		input  any
		want   time.Time
		wantOK bool
	}{
		{name: "nil", input: nil},
		{name: "empty string", input: ""},
		{name: "zero time", input: time.Time{}},
		{name: "nil time pointer", input: (*time.Time)(nil)},
		{name: "token without expiry", input: &oauth2.Token{AccessToken: "a"}},
		{name: "rfc3339", input: "2030-01-02T03:04:05Z", want: ref, wantOK: true},
		{name: "rfc3339 with offset", input: "2030-01-02T05:04:05+02:00", want: ref, wantOK: true},
		{name: "iso without zone", input: "2030-01-02T03:04:05", want: ref, wantOK: true},
		{name: "iso with fraction", input: "2030-01-02T03:04:05.000Z", want: ref, wantOK: true},
		{name: "date only", input: "2030-01-02", want: time.Date(2030, 1, 2, 0, 0, 0, 0, time.UTC), wantOK: true},
		{name: "digit string", input: "1893553445", want: time.Unix(1893553445, 0), wantOK: true},
		{name: "int", input: int(refUnix), want: ref, wantOK: true},
		{name: "int64", input: refUnix, want: ref, wantOK: true},
		{name: "uint32", input: uint32(refUnix), want: ref, wantOK: true},
		{name: "uint64", input: uint64(refUnix), want: ref, wantOK: true},
		{name: "json number", input: fromJSON["expires_at"], want: time.Unix(1893553445, 0), wantOK: true},
		{name: "float with fraction", input: float64(refUnix) + 0.5, want: ref.Add(500 * time.Millisecond), wantOK: true},
		{name: "time", input: ref, want: ref, wantOK: true},
		{name: "time pointer", input: &ref, want: ref, wantOK: true},
		{name: "oauth2 token", input: &oauth2.Token{Expiry: ref}, want: ref, wantOK: true},
		{name: "oauth2 token value", input: oauth2.Token{Expiry: ref}, want: ref, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok, err := ParseExpiry(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
			}
		})
	}
}

func TestParseExpiry_Errors(t *testing.T) {
	t.Parallel()

	for _, input := range []any{"next tuesday", []int{1}, struct{}{}, uint64(1 << 63)} {
		_, ok, err := ParseExpiry(input)
		assert.Error(t, err, "input %v", input)
		assert.False(t, ok)
	}
}
