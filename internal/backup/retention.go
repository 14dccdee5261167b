package backup

import (
	"fmt"
	"sort"
	"time"

	"github.com/Sandiman184/e-raport/internal/config"
	"github.com/Sandiman184/e-raport/internal/storage"
)

// Expired picks the snapshots a retention policy no longer protects.
//
// The newest Keep snapshots are protected, as is the newest snapshot of
// each of the last KeepDaily days, KeepWeekly ISO weeks and KeepMonthly
// months. With MaxAge set only unprotected snapshots older than MaxAge
// expire; otherwise every unprotected snapshot does. A zero policy expires
// nothing.
func Expired(snaps []storage.Snapshot, policy config.Retention, now time.Time) []storage.Snapshot {
	if !policy.Enabled() || len(snaps) == 0 {
		return nil
	}

	sorted := make([]storage.Snapshot, len(snaps))
	copy(sorted, snaps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	keep := make(map[string]bool, len(sorted))
	for i := 0; i < len(sorted) && i < policy.Keep; i++ {
		keep[sorted[i].Name] = true
	}
	applyGFS(sorted, policy, keep)

	var out []storage.Snapshot
	for _, s := range sorted {
		if keep[s.Name] {
			continue
		}
		if policy.MaxAge > 0 && now.Sub(s.CreatedAt) <= policy.MaxAge {
			continue
		}
		out = append(out, s)
	}
	return out
}

// applyGFS marks the newest snapshot of each bucket; sorted is newest first.
func applyGFS(sorted []storage.Snapshot, policy config.Retention, keep map[string]bool) {
	type bucket struct {
		limit int
		key   func(time.Time) string
		seen  map[string]bool
	}
	buckets := []*bucket{
		{policy.KeepDaily, func(t time.Time) string { return t.Format("2006-01-02") }, map[string]bool{}},
		{policy.KeepWeekly, func(t time.Time) string {
			y, w := t.ISOWeek()
			return fmt.Sprintf("%d-W%02d", y, w)
		}, map[string]bool{}},
		{policy.KeepMonthly, func(t time.Time) string { return t.Format("2006-01") }, map[string]bool{}},
	}

	for _, s := range sorted {
		for _, b := range buckets {
			if len(b.seen) >= b.limit {
				continue
			}
			k := b.key(s.CreatedAt)
			if !b.seen[k] {
				b.seen[k] = true
				keep[s.Name] = true
			}
		}
	}
}
