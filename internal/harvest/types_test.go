package harvest

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGameIdentifierEqualityIgnoresValidity(t *testing.T) {
	t.Parallel()

	a := GameIdentifier{Kind: KindApp, ID: 440, Valid: true}
	b := GameIdentifier{Kind: KindApp, ID: 440, Valid: false}
	c := GameIdentifier{Kind: KindPackage, ID: 440, Valid: true}

	require.True(t, a.Equal(b))
	require.Equal(t, a.Key(), b.Key())
	require.False(t, a.Equal(c))
	require.Equal(t, "app/440", a.String())
	require.Equal(t, "sub/440", c.String())
}

func TestValidTimestamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ms   float64
		want bool
	}{
		{name: "positive", ms: 1_700_000_000_000, want: true},
		{name: "zero", ms: 0, want: false},
		{name: "negative", ms: -5, want: false},
		{name: "nan", ms: math.NaN(), want: false},
		{name: "inf", ms: math.Inf(1), want: false},
		{name: "neg inf", ms: math.Inf(-1), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, ValidTimestamp(tt.ms))
		})
	}
}

func TestRawMatchParseID(t *testing.T) {
	t.Parallel()

	id, err := RawMatch{IDText: "4294967295"}.ParseID()
	require.NoError(t, err)
	require.Equal(t, uint32(math.MaxUint32), id)

	_, err = RawMatch{IDText: "4294967296"}.ParseID()
	require.Error(t, err)

	_, err = RawMatch{IDText: "12a"}.ParseID()
	require.Error(t, err)
}

func TestObservedAtRoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	entry := DiscoveredEntry{ObservedMs: TimeToMs(now)}
	require.True(t, entry.ObservedAt().Equal(now))
}

func TestErrorTaxonomy(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("run cycle: %w", ErrNoMirrors)
	require.True(t, IsInvariant(wrapped))
	require.ErrorIs(t, wrapped, ErrNoMirrors)
	require.False(t, IsInvariant(ErrBadStatus))

	src := &SourceError{Endpoint: "https://m.example", Attempts: 3, Err: ErrEmptyBody}
	require.ErrorIs(t, src, ErrEmptyBody)
	require.Contains(t, src.Error(), "3 attempt(s)")

	var target *SourceError
	require.True(t, errors.As(fmt.Errorf("wrap: %w", src), &target))
	require.Equal(t, "https://m.example", target.Endpoint)
}
