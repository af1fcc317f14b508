package occupancy

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"gymaccess/internal/attendance"
	"gymaccess/internal/livecount"
	"gymaccess/internal/metrics"
	"gymaccess/internal/model"
)

// LiveSource is the part of livecount.Manager the monitor depends on.
type LiveSource interface {
	Subscribe(fn func(livecount.Update)) (unsubscribe func())
	Latest() (livecount.Message, bool)
	State() livecount.State
}

// Refresher produces one attendance refresh cycle.
type Refresher interface {
	Refresh(ctx context.Context) attendance.Result
}

// Sink receives every completed snapshot.
type Sink interface {
	Publish(ctx context.Context, s Snapshot) error
}

// Snapshot is the latest completed refresh with occupancy resolved against
// the live feed at the time the snapshot was taken.
type Snapshot struct {
	ID              string                   `json:"id"`
	Occupancy       int                      `json:"occupancy"`
	Source          Source                   `json:"source"`
	LiveState       string                   `json:"live_state"`
	TotalRegistered int                      `json:"total_registered"`
	PresentToday    int                      `json:"present_today"`
	Present         []model.AttendanceRecord `json:"present"`
	Registered      attendance.Outcome       `json:"registered"`
	Attendance      attendance.Outcome       `json:"attendance"`
	Directory       attendance.Outcome       `json:"directory"`
	RefreshedAt     time.Time                `json:"refreshed_at"`
}

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	Interval    time.Duration // periodic refresh; default 30s
	SinkTimeout time.Duration // per-sink publish bound; default 5s
	Sinks       []Sink
	Metrics     *metrics.Aggregation
}

// Monitor ties the live feed to the aggregator. Live messages and a ticker
// trigger refreshes; completed refreshes are kept last-completion-wins.
type Monitor struct {
	live      LiveSource
	refresher Refresher
	opts      MonitorOptions

	trigger chan struct{}
	wg      sync.WaitGroup

	mu       sync.RWMutex
	last     attendance.Result
	lastID   string
	lastTime time.Time
}

// NewMonitor creates a monitor. Call Run to start it.
func NewMonitor(live LiveSource, r Refresher, opts MonitorOptions) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = 5 * time.Second
	}
	return &Monitor{
		live:      live,
		refresher: r,
		opts:      opts,
		trigger:   make(chan struct{}, 1),
		last:      attendance.Result{Present: []model.AttendanceRecord{}},
	}
}

// Run refreshes once immediately, then on every tick and live message,
// until ctx is done. In-flight refreshes are waited for before returning.
func (m *Monitor) Run(ctx context.Context) {
	unsubscribe := m.live.Subscribe(func(u livecount.Update) {
		if u.Message == nil {
			return
		}
		m.publishOccupancy(u.Message)
		// triggers arriving while one is pending coalesce
		select {
		case m.trigger <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	m.spawn(ctx)
	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			return
		case <-ticker.C:
			m.spawn(ctx)
		case <-m.trigger:
			m.spawn(ctx)
		}
	}
}

func (m *Monitor) spawn(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Refresh(ctx)
	}()
}

// Refresh runs one refresh cycle synchronously, stores it and hands the
// snapshot to every sink. Overlapping calls are allowed; whichever
// completes last is kept.
func (m *Monitor) Refresh(ctx context.Context) Snapshot {
	res := m.refresher.Refresh(ctx)

	m.mu.Lock()
	m.last = res
	m.lastID = uuid.NewString()
	m.lastTime = time.Now().UTC()
	m.mu.Unlock()

	snap := m.Snapshot()
	m.opts.Metrics.SetOccupancy(string(snap.Source), snap.Occupancy)
	for _, s := range m.opts.Sinks {
		sctx, cancel := context.WithTimeout(ctx, m.opts.SinkTimeout)
		if err := s.Publish(sctx, snap); err != nil {
			log.Printf("warning: snapshot publish failed: %v", err)
		}
		cancel()
	}
	return snap
}

// Snapshot resolves occupancy from the live feed's latest message and the
// last completed refresh. Before the first refresh completes the aggregate
// side is empty.
func (m *Monitor) Snapshot() Snapshot {
	latest, _ := m.live.Latest()

	m.mu.RLock()
	res, id, at := m.last, m.lastID, m.lastTime
	m.mu.RUnlock()

	r := Resolve(latest, res.PresentToday)
	return Snapshot{
		ID:              id,
		Occupancy:       r.Value,
		Source:          r.Source,
		LiveState:       m.live.State().String(),
		TotalRegistered: res.TotalRegistered,
		PresentToday:    res.PresentToday,
		Present:         res.Present,
		Registered:      res.Registered,
		Attendance:      res.Attendance,
		Directory:       res.Directory,
		RefreshedAt:     at,
	}
}

func (m *Monitor) publishOccupancy(msg livecount.Message) {
	m.mu.RLock()
	present := m.last.PresentToday
	m.mu.RUnlock()
	r := Resolve(msg, present)
	m.opts.Metrics.SetOccupancy(string(r.Source), r.Value)
}
