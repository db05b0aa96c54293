package runner

import (
	"context"
	"sync"
	"time"

	"cadence/internal/config"
	"cadence/internal/eventbus"
	"cadence/internal/storage"
	"cadence/pkg/scheduled"
	"cadence/pkg/systemdmanager"
	logx "cadence/pkg/logx"
)

const (
	DefaultHistorySize = 50
	DefaultStopTimeout = 10 * time.Second
)

// ActionResult is what a job action hands to its stop condition.
type ActionResult struct {
	// ExitCode is -1 for actions without one.
	ExitCode int
	// Output holds the tail of an exec action's combined output.
	Output string
}

// Options wires a Service to the rest of the daemon. Zero fields get
// no-op or default implementations.
type Options struct {
	Log   logx.Logger
	Bus   eventbus.Bus
	Store storage.Store
	Clock scheduled.Clock
	// Units runs "systemd" actions. Defaults to a D-Bus systemdmanager.
	Units Units
}

// Units queues a systemd unit job and waits for its result.
type Units interface {
	Run(ctx context.Context, op systemdmanager.Op, unit string) (string, error)
}

// HistoryItem is one finished run kept in memory for the /jobs endpoint.
type HistoryItem struct {
	Iteration uint64        `json:"iteration"`
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration"`
	ExitCode  int           `json:"exit_code"`
	Error     string        `json:"error,omitempty"`
}

type JobInfo struct {
	Name         string    `json:"name"`
	Schedule     string    `json:"schedule"`
	Mode         string    `json:"mode"`
	MissedPolicy string    `json:"missed_policy"`
	Action       string    `json:"action"`
	Lifecycle    string    `json:"lifecycle"`
	StopReason   string    `json:"stop_reason,omitempty"`
	Iterations   uint64    `json:"iterations"`
	InFlight     bool      `json:"in_flight"`
	Missed       uint64    `json:"missed"`
	Errors       uint64    `json:"errors"`
	Next         time.Time `json:"next,omitempty"`
	Last         time.Time `json:"last,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

type Snapshot struct {
	Started  bool      `json:"started"`
	Timezone string    `json:"timezone"`
	Jobs     []JobInfo `json:"jobs"`
}

// Report lists what Apply did, by job name.
type Report struct {
	Added    []string
	Removed  []string
	Replaced []string
	Disabled []string
}

type Service struct {
	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store
	clock scheduled.Clock
	units Units

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	applied *config.Config
	runner  config.RunnerConfig
	jobs    map[string]*entry
	// retry holds jobs whose last Apply failed; the next Apply rebuilds them
	// even when their config did not change.
	retry map[string]bool

	// inflight tracks running actions so Stop can drain them.
	inflight drain
	groups   groupStore
}

// drain counts running actions. idle returns a channel closed once the
// count drops to zero.
type drain struct {
	mu   sync.Mutex
	n    int
	zero chan struct{}
}

func (d *drain) enter() {
	d.mu.Lock()
	if d.n == 0 {
		d.zero = make(chan struct{})
	}
	d.n++
	d.mu.Unlock()
}

func (d *drain) leave() {
	d.mu.Lock()
	d.n--
	if d.n == 0 {
		close(d.zero)
	}
	d.mu.Unlock()
}

func (d *drain) idle() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.n == 0 {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return d.zero
}

// entry is one registered job plus its runtime bookkeeping.
type entry struct {
	settings config.JobSettings
	job      *scheduled.Job[ActionResult]
	sub      *scheduled.Subscription
	cancel   context.CancelFunc
	histSize int

	mu        sync.Mutex
	iteration uint64
	missed    uint64
	errors    uint64
	lastErr   string
	history   []HistoryItem
}
