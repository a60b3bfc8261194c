package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "relaybot/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Timezone       string        // IANA TZ for cron triggers, e.g. "Asia/Jakarta"
	DefaultTimeout time.Duration // per-run timeout when a registration passes 0
	HistorySize    int
}

// Task is the unit of work run by the scheduler.
type Task func(ctx context.Context) error

// Handle identifies one arming of a one-shot timer. A handle from a replaced
// or already fired timer cancels nothing.
type Handle struct {
	Name string
	ver  uint64
}

// IsZero reports an unset handle.
func (h Handle) IsZero() bool { return h.Name == "" && h.ver == 0 }

type scheduleDef struct {
	id          string
	name        string
	spec        string // cron spec or @every
	timeout     time.Duration
	job         Task
	entryID     cron.EntryID
	firstOffset time.Duration // @every only
	running     *runGate
}

// onceDef is a one-shot timer. The definition survives Stop so Start can
// re-arm it.
type onceDef struct {
	at      time.Time
	timeout time.Duration
	job     Task
	ver     uint64
	timer   *time.Timer
}

// runGate skips a cron trigger while the previous run is still going.
type runGate struct {
	mu      sync.Mutex
	running bool
}

func (g *runGate) tryAcquire() bool {
	if g == nil {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return false
	}
	g.running = true
	return true
}

func (g *runGate) release() {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.running = false
	g.mu.Unlock()
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	tmu    sync.Mutex
	once   map[string]*onceDef
	verSeq uint64
	paused bool // set by Stop; Start re-arms

	hmu     sync.Mutex
	history []HistoryItem
}

type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

type ScheduleInfo struct {
	ID      string
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

type TimerInfo struct {
	Name string
	At   time.Time
}

type Snapshot struct {
	Timezone  string
	Schedules []ScheduleInfo
	Timers    []TimerInfo
	History   []HistoryItem
}
