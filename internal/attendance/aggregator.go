package attendance

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"gymaccess/internal/metrics"
	"gymaccess/internal/model"
)

// DefaultPageSize bounds the directory page used for enrichment. People
// beyond the first page are not enriched.
const DefaultPageSize = 500

// Metric names used in failure reporting.
const (
	MetricRegistered = "registered"
	MetricAttendance = "attendance"
	MetricDirectory  = "directory"
)

// Source is the REST collaborator the aggregator reads from.
type Source interface {
	UserCount(ctx context.Context) (int, error)
	TodayAttendance(ctx context.Context) ([]model.AttendanceRecord, error)
	DirectoryPage(ctx context.Context, page, limit int) ([]model.DirectoryRecord, error)
}

// Outcome reports whether one upstream request succeeded.
type Outcome struct {
	OK  bool   `json:"ok"`
	Err string `json:"error,omitempty"`
}

func outcome(err error) Outcome {
	if err != nil {
		return Outcome{Err: err.Error()}
	}
	return Outcome{OK: true}
}

// Result is one refresh cycle. Failed requests leave their value at zero
// or empty and set the matching Outcome.
type Result struct {
	Present         []model.AttendanceRecord `json:"present"`
	TotalRegistered int                      `json:"total_registered"`
	PresentToday    int                      `json:"present_today"`
	Registered      Outcome                  `json:"registered"`
	Attendance      Outcome                  `json:"attendance"`
	Directory       Outcome                  `json:"directory"`
}

// Aggregator combines attendance and directory data into the present list.
// It holds no mutable state; Refresh may run concurrently.
type Aggregator struct {
	source   Source
	pageSize int
	metrics  *metrics.Aggregation
}

// NewAggregator creates an aggregator. A pageSize <= 0 uses DefaultPageSize.
func NewAggregator(src Source, pageSize int, m *metrics.Aggregation) *Aggregator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Aggregator{source: src, pageSize: pageSize, metrics: m}
}

// Refresh issues the three upstream requests concurrently and merges the
// results. It never fails as a whole; per-request failures are in Result.
func (a *Aggregator) Refresh(ctx context.Context) Result {
	started := time.Now()

	var (
		total                    int
		present                  []model.AttendanceRecord
		directory                []model.DirectoryRecord
		totalErr, attErr, dirErr error
	)

	// The group context is not used: one failing request must not cancel the others.
	var g errgroup.Group
	g.Go(func() error {
		total, totalErr = a.source.UserCount(ctx)
		return nil
	})
	g.Go(func() error {
		present, attErr = a.source.TodayAttendance(ctx)
		return nil
	})
	g.Go(func() error {
		directory, dirErr = a.source.DirectoryPage(ctx, 1, a.pageSize)
		return nil
	})
	_ = g.Wait()

	res := Result{
		Registered: outcome(totalErr),
		Attendance: outcome(attErr),
		Directory:  outcome(dirErr),
	}
	if totalErr != nil {
		a.failed(MetricRegistered, totalErr)
	} else {
		res.TotalRegistered = total
	}
	if attErr != nil {
		a.failed(MetricAttendance, attErr)
		present = nil
	}
	if dirErr != nil {
		a.failed(MetricDirectory, dirErr)
		directory = nil
	}

	res.Present = Merge(present, directory)
	res.PresentToday = len(res.Present)
	a.metrics.Refreshed(started)
	return res
}

func (a *Aggregator) failed(metric string, err error) {
	log.Printf("warning: %s request failed: %v", metric, err)
	a.metrics.Failed(metric)
}
