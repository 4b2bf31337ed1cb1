package analysis

import (
	"sync"
	"time"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Ticket identifies one Begin call. Writes carrying an older ticket are dropped.
type Ticket uint64

// Snapshot is a copy of State safe to hand to renderers.
type Snapshot struct {
	Status    Status
	Filename  string
	Preview   string
	Result    *Result
	Failure   *Failure
	UpdatedAt time.Time
}

func (s Snapshot) HasResult() bool { return s.Result != nil }

// State is the result slot of one user session. Result and failure are
// mutually exclusive and both empty while an analysis is in progress.
type State struct {
	mu        sync.Mutex
	seq       uint64
	status    Status
	filename  string
	preview   string
	result    *Result
	failure   *Failure
	updatedAt time.Time
	now       func() time.Time
}

func NewState() *State {
	return &State{status: StatusIdle, now: time.Now, updatedAt: time.Now()}
}

// Begin clears whatever the previous analysis left behind.
func (s *State) Begin(filename string) Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.status = StatusInProgress
	s.filename = filename
	s.preview = ""
	s.result = nil
	s.failure = nil
	s.updatedAt = s.now()
	return Ticket(s.seq)
}

func (s *State) attachPreview(t Ticket, dataURI string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if uint64(t) != s.seq {
		return
	}
	s.preview = dataURI
}

// Complete publishes r. Returns false for a stale ticket.
func (s *State) Complete(t Ticket, r Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if uint64(t) != s.seq || s.status != StatusInProgress {
		return false
	}
	res := r.clone()
	s.result = &res
	s.failure = nil
	s.status = StatusComplete
	s.updatedAt = s.now()
	return true
}

// Fail records f and leaves the result slot empty.
func (s *State) Fail(t Ticket, f *Failure) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if uint64(t) != s.seq || s.status != StatusInProgress {
		return false
	}
	s.result = nil
	cp := *f
	s.failure = &cp
	s.status = StatusFailed
	s.updatedAt = s.now()
	return true
}

// Reset returns the state to idle, e.g. when the user clears the upload.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.status = StatusIdle
	s.filename = ""
	s.preview = ""
	s.result = nil
	s.failure = nil
	s.updatedAt = s.now()
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Status:    s.status,
		Filename:  s.filename,
		Preview:   s.preview,
		UpdatedAt: s.updatedAt,
	}
	if s.result != nil {
		r := s.result.clone()
		snap.Result = &r
	}
	if s.failure != nil {
		f := *s.failure
		snap.Failure = &f
	}
	return snap
}
