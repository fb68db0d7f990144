package jurisdiction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/conciliation-filer/internal/types"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestComputeDeadline_Boundaries(t *testing.T) {
	today := date(2026, time.October, 14)

	tests := []struct {
		name      string
		ago       int
		remaining int
		urgent    bool
		expired   bool
	}{
		{"fresh", 1, 59, false, false},
		{"sixteen left", 44, 16, false, false},
		{"fifteen left", 45, 15, true, false},
		{"one left", 59, 1, true, false},
		{"zero left", 60, 0, false, true},
		{"past", 61, -1, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dl := ComputeDeadline(DefaultPrescriptionPolicy, today.AddDate(0, 0, -tt.ago), types.TerminationDismissal, today)
			assert.Equal(t, tt.remaining, dl.RemainingDays)
			assert.Equal(t, tt.urgent, dl.Urgent)
			assert.Equal(t, tt.expired, dl.Expired)
			assert.Equal(t, 60, dl.Days)
		})
	}
}

func TestComputeDeadline_UniformAcrossTypes(t *testing.T) {
	today := date(2026, time.October, 14)
	terminated := date(2026, time.September, 1)

	for _, tt := range []types.TerminationType{
		types.TerminationDismissal,
		types.TerminationConstructiveResignation,
		types.TerminationEmployerRescission,
	} {
		dl := ComputeDeadline(DefaultPrescriptionPolicy, terminated, tt, today)
		assert.Equal(t, date(2026, time.October, 31), dl.Date, tt)
	}
}

func TestComputeDeadline_PropertyUrgentWindow(t *testing.T) {
	today := date(2026, time.October, 14)
	for ago := 0; ago <= 120; ago++ {
		dl := ComputeDeadline(DefaultPrescriptionPolicy, today.AddDate(0, 0, -ago), types.TerminationDismissal, today)
		assert.Equal(t, today.AddDate(0, 0, -ago).AddDate(0, 0, 60), dl.Date)
		assert.Equal(t, dl.RemainingDays > 0 && dl.RemainingDays <= 15, dl.Urgent, "ago=%d", ago)
		assert.Equal(t, dl.RemainingDays <= 0, dl.Expired, "ago=%d", ago)
	}
}

func TestComputeDeadline_IgnoresClock(t *testing.T) {
	loc, err := time.LoadLocation(DefaultLocation)
	require.NoError(t, err)
	late := time.Date(2026, time.October, 14, 23, 59, 0, 0, loc)
	terminated := date(2026, time.August, 15)

	dl := ComputeDeadline(DefaultPrescriptionPolicy, terminated, types.TerminationDismissal, late)
	assert.Equal(t, 0, dl.RemainingDays)
	assert.True(t, dl.Expired)
}

func TestPrescriptionPolicy_Override(t *testing.T) {
	policy := PrescriptionPolicy{types.TerminationEmployerRescission: 30}
	assert.Equal(t, 30, policy.Days(types.TerminationEmployerRescission))
	assert.Equal(t, DefaultPrescriptionDays, policy.Days(types.TerminationDismissal))
}

func TestAdvanceBusinessDays(t *testing.T) {
	ref, err := NewDefaultReference()
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name  string
		start time.Time
		n     int
		want  time.Time
	}{
		{"midweek", date(2026, time.October, 14), 1, date(2026, time.October, 15)},
		{"over weekend", date(2026, time.October, 16), 1, date(2026, time.October, 19)},
		{"weekend plus holiday", date(2026, time.November, 13), 1, date(2026, time.November, 17)},
		{"year end", date(2026, time.December, 23), 3, date(2026, time.December, 30)},
		{"zero on business day", date(2026, time.October, 14), 0, date(2026, time.October, 14)},
		{"zero on saturday", date(2026, time.October, 17), 0, date(2026, time.October, 19)},
		{"two weeks", date(2026, time.October, 14), 10, date(2026, time.October, 28)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AdvanceBusinessDays(ctx, ref, tt.start, tt.n)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAdvanceBusinessDays_NegativeCount(t *testing.T) {
	ref, err := NewDefaultReference()
	require.NoError(t, err)
	_, err = AdvanceBusinessDays(context.Background(), ref, date(2026, time.October, 14), -1)
	assert.Error(t, err)
}

func TestAdvanceBusinessDays_PropertyCountsQualifyingDays(t *testing.T) {
	ref, err := NewDefaultReference()
	require.NoError(t, err)
	ctx := context.Background()

	for offset := 0; offset < 400; offset += 7 {
		start := date(2025, time.December, 1).AddDate(0, 0, offset)
		for _, n := range []int{1, 5, 23} {
			got, err := AdvanceBusinessDays(ctx, ref, start, n)
			require.NoError(t, err)

			ok, err := IsBusinessDay(ctx, ref, got)
			require.NoError(t, err)
			assert.True(t, ok, "landed on non-business day %s", got.Format(time.DateOnly))

			count := 0
			for d := start.AddDate(0, 0, 1); !d.After(got); d = d.AddDate(0, 0, 1) {
				if ok, _ := IsBusinessDay(ctx, ref, d); ok {
					count++
				}
			}
			assert.Equal(t, n, count, "start=%s n=%d", start.Format(time.DateOnly), n)
		}
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "nuevo leon", Normalize("  Nuevo León "))
	assert.Equal(t, "nuevo leon", Normalize("NUEVO-LEON"))
	assert.Equal(t, "d f", Normalize("D.F."))
	assert.Equal(t, "QUIMICA_FARMACEUTICA", normalizeCode("química farmacéutica"))
}
