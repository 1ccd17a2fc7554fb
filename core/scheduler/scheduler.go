package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/planboard/core/logger"
	"github.com/kilianp07/planboard/core/ptu"
)

// Action is invoked when a job fires.
type Action func(fired time.Time)

// TimeOfDay is a local wall-clock time.
type TimeOfDay struct {
	Hour, Minute, Second int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
}

// NextOccurrence returns the first instant after now at which a job anchored
// at "at" minus offset fires. The anchor is resolved per local day, so the
// result stays on the wall clock across daylight-saving changes.
func NextOccurrence(now time.Time, loc *time.Location, at TimeOfDay, offset time.Duration) time.Time {
	local := now.In(loc)
	y, m, d := local.Date()
	for i := 0; ; i++ {
		t := time.Date(y, m, d+i, at.Hour, at.Minute, at.Second, 0, loc).Add(-offset)
		if t.After(now) {
			return t
		}
	}
}

// NextDelay is the wait from now until NextOccurrence.
func NextDelay(now time.Time, loc *time.Location, at TimeOfDay, offset time.Duration) time.Duration {
	return NextOccurrence(now, loc, at, offset).Sub(now)
}

type timer interface{ Stop() bool }

type job struct {
	name   string
	at     TimeOfDay
	offset time.Duration
	action Action
	timer  timer
	gen    uint64
	next   time.Time
}

// Scheduler keeps one timer per registered job name.
type Scheduler struct {
	mu      sync.Mutex
	clock   ptu.Clock
	log     logger.Logger
	jobs    map[string]*job
	gen     uint64
	stopped bool

	now       func() time.Time
	afterFunc func(d time.Duration, f func()) timer
}

// New returns a scheduler using the PTU clock's zone and duration.
func New(clock ptu.Clock, log logger.Logger) *Scheduler {
	return &Scheduler{
		clock: clock,
		log:   log,
		jobs:  map[string]*job{},
		now:   time.Now,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
	}
}

// RegisterDaily schedules action at the next occurrence of at, shifted back
// by offsetPTUs slices. Registering an existing name replaces the job.
func (s *Scheduler) RegisterDaily(name string, at TimeOfDay, offsetPTUs int, action Action) error {
	if name == "" || action == nil {
		return fmt.Errorf("job needs a name and an action")
	}
	if offsetPTUs < 0 {
		return fmt.Errorf("job %s: negative offset %d", name, offsetPTUs)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("scheduler stopped")
	}
	if old, ok := s.jobs[name]; ok {
		old.timer.Stop()
		s.log.Infof("job %s replaced", name)
	}
	s.gen++
	j := &job{
		name:   name,
		at:     at,
		offset: time.Duration(offsetPTUs*s.clock.Duration()) * time.Minute,
		action: action,
		gen:    s.gen,
	}
	s.jobs[name] = j
	s.arm(j)
	return nil
}

// arm must be called with s.mu held.
func (s *Scheduler) arm(j *job) {
	now := s.now()
	j.next = NextOccurrence(now, s.clock.Location(), j.at, j.offset)
	gen := j.gen
	j.timer = s.afterFunc(j.next.Sub(now), func() { s.fire(j.name, gen) })
	s.log.Debugw("job armed", map[string]any{"job": j.name, "next": j.next.Format(time.RFC3339)})
}

func (s *Scheduler) fire(name string, gen uint64) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if !ok || j.gen != gen || s.stopped {
		s.mu.Unlock()
		return
	}
	fired := j.next
	action := j.action
	s.arm(j)
	s.mu.Unlock()
	action(fired)
}

// Unregister stops and forgets the job.
func (s *Scheduler) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[name]; ok {
		j.timer.Stop()
		delete(s.jobs, name)
	}
}

// Next returns when the named job fires next.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return time.Time{}, false
	}
	return j.next, true
}

// Names lists the registered jobs.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Stop cancels every timer. Registered jobs never fire afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for _, j := range s.jobs {
		j.timer.Stop()
	}
}
