// Package scheduler implements the hierarchical weighted-fair-queue admission
// gate: per-team priority-bucketed FIFOs, an org-level deficit-based
// weighted round robin across teams, and starvation promotion. Grounded on
// the teacher's internal/tasks.Scheduler for the goroutine-driven admission
// loop shape, generalised from a single cron-polled task queue to a
// multi-tenant priority hierarchy; the dispatch algorithm itself (deficit
// round robin) has no teacher analogue and is built fresh from spec.md §4.H.
package scheduler

import (
	"sync"
	"time"
)

type Priority int

const (
	P0 Priority = iota
	P1
	P2
)

// QueueEntry is one admitted-or-waiting unit of work.
type QueueEntry struct {
	StepID    string
	RunID     string
	SessionID string
	Org       string
	Team      string
	Priority  Priority
	QueuedAt  time.Time
	Kind      string
	Model     string
}

// AdmitDecision mirrors the three admission outcomes spec.md §4.H names.
type AdmitDecision string

const (
	AdmitAllow  AdmitDecision = "ALLOW"
	AdmitQueue  AdmitDecision = "QUEUE"
	AdmitReject AdmitDecision = "REJECT"
)

type teamQueue struct {
	weight  int
	deficit int
	buckets [3][]QueueEntry // indexed by Priority
}

func (q *teamQueue) empty() bool {
	for _, b := range q.buckets {
		if len(b) > 0 {
			return false
		}
	}
	return true
}

func (q *teamQueue) popHighestNonEmpty() (QueueEntry, bool) {
	for p := P0; p <= P2; p++ {
		bucket := q.buckets[p]
		if len(bucket) > 0 {
			entry := bucket[0]
			q.buckets[p] = bucket[1:]
			return entry, true
		}
	}
	return QueueEntry{}, false
}

// Config bounds inflight work per organisation and per team.
type Config struct {
	MaxInflightPerOrg  int
	MaxInflightPerTeam int
	MaxQueueDepth      int
	DefaultTeamWeight  int
}

// Scheduler is safe for concurrent admit/dispatch/complete calls.
type Scheduler struct {
	mu sync.Mutex

	cfg Config

	orgTeams       map[string]map[string]*teamQueue
	orgInflight    map[string]int
	teamInflightBy map[string]int // keyed by org+"/"+team
}

func New(cfg Config) *Scheduler {
	if cfg.DefaultTeamWeight <= 0 {
		cfg.DefaultTeamWeight = 1
	}
	return &Scheduler{
		cfg:            cfg,
		orgTeams:       make(map[string]map[string]*teamQueue),
		orgInflight:    make(map[string]int),
		teamInflightBy: make(map[string]int),
	}
}

func teamKey(org, team string) string { return org + "/" + team }

func (s *Scheduler) teamFor(org, team string) *teamQueue {
	teams, ok := s.orgTeams[org]
	if !ok {
		teams = make(map[string]*teamQueue)
		s.orgTeams[org] = teams
	}
	tq, ok := teams[team]
	if !ok {
		tq = &teamQueue{weight: s.cfg.DefaultTeamWeight}
		teams[team] = tq
	}
	return tq
}

// Admit decides whether entry can run immediately, must queue, or is
// rejected outright for being over capacity. A QUEUE decision enqueues the
// entry into its team's priority bucket and credits the team's deficit by
// its weight.
func (s *Scheduler) Admit(entry QueueEntry) (AdmitDecision, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.MaxInflightPerOrg > 0 && s.orgInflight[entry.Org] < s.cfg.MaxInflightPerOrg {
		key := teamKey(entry.Org, entry.Team)
		if s.cfg.MaxInflightPerTeam <= 0 || s.teamInflightBy[key] < s.cfg.MaxInflightPerTeam {
			s.orgInflight[entry.Org]++
			s.teamInflightBy[key]++
			return AdmitAllow, ""
		}
	}

	tq := s.teamFor(entry.Org, entry.Team)
	depth := len(tq.buckets[P0]) + len(tq.buckets[P1]) + len(tq.buckets[P2])
	if s.cfg.MaxQueueDepth > 0 && depth >= s.cfg.MaxQueueDepth {
		return AdmitReject, "queue at capacity"
	}

	tq.buckets[entry.Priority] = append(tq.buckets[entry.Priority], entry)
	tq.deficit += tq.weight
	return AdmitQueue, entry.StepID
}

// Dispatch pops the next entry per deficit-based weighted round robin
// across entry.Org's teams: the team with the highest deficit dispatches,
// ties broken by the oldest queued_at across candidate teams' head entries.
func (s *Scheduler) Dispatch(org string) (QueueEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	teams := s.orgTeams[org]
	if len(teams) == 0 {
		return QueueEntry{}, false
	}

	var bestTeam string
	var bestDeficit = -1
	var bestOldest time.Time

	for name, tq := range teams {
		if tq.empty() {
			continue
		}
		head := tq.peekHeadQueuedAt()
		switch {
		case tq.deficit > bestDeficit:
			bestTeam, bestDeficit, bestOldest = name, tq.deficit, head
		case tq.deficit == bestDeficit && head.Before(bestOldest):
			bestTeam, bestDeficit, bestOldest = name, tq.deficit, head
		}
	}

	if bestTeam == "" {
		return QueueEntry{}, false
	}

	tq := teams[bestTeam]
	entry, ok := tq.popHighestNonEmpty()
	if !ok {
		return QueueEntry{}, false
	}
	tq.deficit--

	key := teamKey(org, bestTeam)
	s.orgInflight[org]++
	s.teamInflightBy[key]++

	return entry, true
}

func (q *teamQueue) peekHeadQueuedAt() time.Time {
	var earliest time.Time
	for _, bucket := range q.buckets {
		if len(bucket) == 0 {
			continue
		}
		if earliest.IsZero() || bucket[0].QueuedAt.Before(earliest) {
			earliest = bucket[0].QueuedAt
		}
	}
	return earliest
}

// Complete decrements the inflight counters for org/team, undoing what
// Admit or Dispatch incremented.
func (s *Scheduler) Complete(org, team string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orgInflight[org] > 0 {
		s.orgInflight[org]--
	}
	key := teamKey(org, team)
	if s.teamInflightBy[key] > 0 {
		s.teamInflightBy[key]--
	}
}

// PromoteStarved moves entries that have waited beyond threshold one
// priority level up (P2 -> P1, P1 -> P0), across every team.
func (s *Scheduler) PromoteStarved(threshold time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	promoted := 0
	for _, teams := range s.orgTeams {
		for _, tq := range teams {
			// Snapshot both source buckets before mutating either, so an
			// entry promoted P2->P1 in this pass is never re-examined and
			// promoted again to P0 within the same call.
			sourceP2 := append([]QueueEntry(nil), tq.buckets[P2]...)
			sourceP1 := append([]QueueEntry(nil), tq.buckets[P1]...)

			var keepP2, keepP1, promotedToP1, promotedToP0 []QueueEntry
			for _, entry := range sourceP2 {
				if now.Sub(entry.QueuedAt) >= threshold {
					entry.Priority = P1
					promotedToP1 = append(promotedToP1, entry)
					promoted++
				} else {
					keepP2 = append(keepP2, entry)
				}
			}
			for _, entry := range sourceP1 {
				if now.Sub(entry.QueuedAt) >= threshold {
					entry.Priority = P0
					promotedToP0 = append(promotedToP0, entry)
					promoted++
				} else {
					keepP1 = append(keepP1, entry)
				}
			}
			tq.buckets[P2] = keepP2
			tq.buckets[P1] = append(keepP1, promotedToP1...)
			tq.buckets[P0] = append(tq.buckets[P0], promotedToP0...)
		}
	}
	return promoted
}

// SetTeamWeight adjusts a team's weighted-round-robin weight.
func (s *Scheduler) SetTeamWeight(org, team string, weight int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teamFor(org, team).weight = weight
}
