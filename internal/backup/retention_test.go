package backup

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Sandiman184/e-raport/internal/config"
	"github.com/Sandiman184/e-raport/internal/storage"
)

// daily returns one snapshot per day at 02:00, newest first.
func daily(now time.Time, n int) []storage.Snapshot {
	out := make([]storage.Snapshot, n)
	for i := 0; i < n; i++ {
		at := time.Date(now.Year(), now.Month(), now.Day(), 2, 0, 0, 0, time.UTC).AddDate(0, 0, -i)
		out[i] = storage.Snapshot{Name: fmt.Sprintf("snap-%02d.sqlite", i), CreatedAt: at}
	}
	return out
}

func names(snaps []storage.Snapshot) []string {
	out := make([]string, len(snaps))
	for i, s := range snaps {
		out[i] = s.Name
	}
	return out
}

func TestExpired(t *testing.T) {
	now := time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC) // a Monday
	snaps := daily(now, 40)

	tests := []struct {
		name      string
		policy    config.Retention
		wantCount int
		kept      []string
		expired   []string
	}{
		{
			name:      "disabled",
			policy:    config.Retention{},
			wantCount: 0,
		},
		{
			name:      "keep newest 5",
			policy:    config.Retention{Keep: 5},
			wantCount: 35,
			kept:      []string{"snap-00.sqlite", "snap-04.sqlite"},
			expired:   []string{"snap-05.sqlite", "snap-39.sqlite"},
		},
		{
			name:      "daily 7",
			policy:    config.Retention{KeepDaily: 7},
			wantCount: 33,
			kept:      []string{"snap-06.sqlite"},
			expired:   []string{"snap-07.sqlite"},
		},
		{
			name:   "monthly 2 keeps newest of March and February",
			policy: config.Retention{KeepMonthly: 2},
			// snap-00 is 31 March, snap-31 is 28 February.
			wantCount: 38,
			kept:      []string{"snap-00.sqlite", "snap-31.sqlite"},
			expired:   []string{"snap-30.sqlite", "snap-32.sqlite"},
		},
		{
			name:      "max age alone",
			policy:    config.Retention{MaxAge: 10 * 24 * time.Hour},
			wantCount: 30,
			kept:      []string{"snap-09.sqlite"},
			expired:   []string{"snap-10.sqlite"},
		},
		{
			name:      "max age spares protected",
			policy:    config.Retention{Keep: 1, KeepWeekly: 2, MaxAge: 24 * time.Hour},
			wantCount: 38,
			kept:      []string{"snap-00.sqlite", "snap-01.sqlite"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := names(Expired(snaps, tt.policy, now))
			assert.Len(t, got, tt.wantCount)
			for _, k := range tt.kept {
				assert.NotContains(t, got, k)
			}
			for _, e := range tt.expired {
				assert.Contains(t, got, e)
			}
		})
	}
}

func TestExpired_UnsortedInput(t *testing.T) {
	now := time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)
	snaps := daily(now, 3)
	snaps[0], snaps[2] = snaps[2], snaps[0]

	got := names(Expired(snaps, config.Retention{Keep: 1}, now))
	assert.ElementsMatch(t, []string{"snap-01.sqlite", "snap-02.sqlite"}, got)
}
