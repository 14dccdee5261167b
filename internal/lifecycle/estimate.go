package lifecycle

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/Sandiman184/e-raport/internal/db"
	apperrors "github.com/Sandiman184/e-raport/internal/errors"
)

const (
	// CopyRate is the assumed snapshot throughput in bytes per second.
	CopyRate = 10 << 20
	// sharedFraction of a year-scoped snapshot is reference data every
	// snapshot carries regardless of the year.
	sharedFraction = 0.1
)

type YearEstimate struct {
	Year     string        `json:"year"`
	Rows     int64         `json:"rows"`
	Bytes    int64         `json:"bytes"`
	Duration time.Duration `json:"duration"`
}

// Estimate is a rough guess, not a measurement.
type Estimate struct {
	FullBytes    int64          `json:"full_bytes"`
	FullDuration time.Duration  `json:"full_duration"`
	TotalRows    int64          `json:"total_rows"`
	Years        []YearEstimate `json:"years"`
	Label        string         `json:"label"`
}

// EstimateDuration converts a size into copy time at CopyRate, never less
// than one second.
func EstimateDuration(bytes int64) time.Duration {
	d := time.Duration(float64(bytes) / CopyRate * float64(time.Second))
	if d < time.Second {
		return time.Second
	}
	return d.Round(time.Second)
}

// EstimateYearBytes applies 0.1*full + 0.9*full*(yearRows/totalRows).
func EstimateYearBytes(full, yearRows, totalRows int64) int64 {
	ratio := 0.0
	if totalRows > 0 {
		ratio = float64(yearRows) / float64(totalRows)
	}
	f := float64(full)
	return int64(sharedFraction*f + (1-sharedFraction)*f*ratio)
}

// Estimate sizes a full snapshot and one per academic year. Read-only.
func (m *Manager) Estimate(ctx context.Context) (*Estimate, error) {
	if err := db.Exists(m.opts.StorePath); err != nil {
		return nil, err
	}
	info, err := os.Stat(m.opts.StorePath)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeInternal, "failed to stat live store", "")
	}

	conn, err := db.OpenReadOnly(ctx, m.opts.StorePath)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	perYear, err := db.YearRows(ctx, conn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeInternal, "failed to count rows per year", "")
	}

	est := &Estimate{
		FullBytes:    info.Size(),
		FullDuration: EstimateDuration(info.Size()),
		Label:        "estimate",
	}
	for _, n := range perYear {
		est.TotalRows += n
	}
	for year, n := range perYear {
		b := EstimateYearBytes(info.Size(), n, est.TotalRows)
		est.Years = append(est.Years, YearEstimate{
			Year:     year,
			Rows:     n,
			Bytes:    b,
			Duration: EstimateDuration(b),
		})
	}
	sort.Slice(est.Years, func(i, j int) bool { return est.Years[i].Year > est.Years[j].Year })
	return est, nil
}
