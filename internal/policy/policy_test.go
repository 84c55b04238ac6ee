package policy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestPercentagePolicyWithinGrace(t *testing.T) {
	p := NewPercentagePolicy(0.01, 30*24*time.Hour)
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := due.Add(10 * 24 * time.Hour)

	delta := p.Delta(decimal.NewFromInt(200), due, now)
	require.True(t, delta.IsZero())
}

func TestPercentagePolicyPastGrace(t *testing.T) {
	p := NewPercentagePolicy(0.01, 30*24*time.Hour)
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := due.Add(45 * 24 * time.Hour)

	delta := p.Delta(decimal.NewFromInt(200), due, now)
	require.True(t, delta.Equal(decimal.NewFromInt(2)))
}

func TestPercentagePolicyNothingUnpaid(t *testing.T) {
	p := NewPercentagePolicy(0.05, 0)
	delta := p.Delta(decimal.Zero, time.Time{}, time.Now())
	require.True(t, delta.IsZero())
}

func TestPercentagePolicyRounds(t *testing.T) {
	p := NewPercentagePolicy(0.01, 0)
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	delta := p.Delta(decimal.RequireFromString("123.45"), due, due)
	require.True(t, delta.Equal(decimal.RequireFromString("1.23")), delta.String())
}
