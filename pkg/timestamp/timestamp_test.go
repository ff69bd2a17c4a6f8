package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParse_Formats(t *testing.T) {
	ref := time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)
	refMs := ref.UnixMilli()

	tests := []struct {
		name  string
		input any
		want  int64
	}{
		{"nil", nil, 0},
		{"zero int64", int64(0), 0},
		{"unix seconds", ref.Unix(), refMs},
		{"unix millis", refMs, refMs},
		{"float seconds", float64(ref.Unix()), refMs},
		{"float millis", float64(refMs), refMs},
		{"rfc3339", "2024-01-15T08:30:00Z", refMs},
		{"numeric string seconds", "1705307400", refMs},
		{"numeric string millis", "1705307400000", refMs},
		{"time.Time", ref, refMs},
		{"nil time pointer", (*time.Time)(nil), 0},
		{"time pointer", &ref, refMs},
		{"garbage string", "not a timestamp", 0},
		{"empty string", "", 0},
		{"unsupported type", struct{}{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.input))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)
	assert.True(t, FromUnixMs(ToUnixMs(now)).Equal(now))
}

func TestZeroHandling(t *testing.T) {
	assert.True(t, IsZero(0))
	assert.True(t, FromUnixMs(0).IsZero())
	assert.Equal(t, "", Format(0))
	assert.Equal(t, time.Duration(0), Since(0))
	assert.Equal(t, time.Duration(0), Between(0, Now()))
}

func TestBetween(t *testing.T) {
	start := int64(1705307400000)
	end := start + 90_000
	assert.Equal(t, 90*time.Second, Between(start, end))
}

func TestFormat(t *testing.T) {
	ms := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, "2024-06-01T12:00:00Z", Format(ms))
}
