package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tcoin-network/tcoind/logs"
	"github.com/tcoin-network/tcoind/params"
	"github.com/tcoin-network/tcoind/tangle/message"
)

// AdmitResult reports what happened when a queued message was handed to
// the tangle: accepted outright, or blocked on parents that are either
// known-invalid or simply not yet known.
type AdmitResult struct {
	Accepted       bool
	InvalidParents []string
	UnknownParents []string
}

// Admitter performs the actual validity checks and tangle insertion for a
// dequeued message. Implemented by the daemon layer, which has access to
// both the tangle and the gossip propagation path.
type Admitter interface {
	AdmitMessage(msg *message.Message) AdmitResult
}

// Requester issues a GetMsgs request for the given hashes on behalf of a
// pending message, either asking for the hashes themselves (history=false)
// or the direct children of each (history=true).
type Requester interface {
	RequestMsgs(initial *message.Message, hashes []string, history bool)
}

// Reputation supplies the weight a peer's vote carries when resolving a
// pending message's missing parents: the voter's current tangle balance,
// consistent with the queue-scheduling score's own use of balance as a
// stand-in for stake (see DESIGN.md).
type Reputation interface {
	Balance(address string) int64
}

// Scheduler is the single cooperative worker that selects, by a
// balance-per-admissible-message score, which issuer's oldest queued
// message to admit next. Grounded on scheduler.py: Scheduler.
//
// Connection goroutines feed it via QueueMessage/AddVote while the
// scheduler's own goroutine drains it in Run; mu guards queue, scores,
// and pending against that concurrent access, keeping the tangle's
// mutation methods reachable from a single logical writer the way
// SPEC_FULL.md's concurrency model requires. Every unexported method
// below assumes its caller already holds mu.
type Scheduler struct {
	admitter   Admitter
	requester  Requester
	reputation Reputation
	tips       func() []string
	rate       time.Duration

	mu      sync.Mutex
	queue   map[string]map[string]*message.Message // issuer -> hash -> msg
	scores  map[string]float64
	pending map[string]*PendingMessage // msg hash -> pending
}

// New constructs a scheduler ticking at params.DefaultSchedulingRate.
func New(admitter Admitter, requester Requester, reputation Reputation, tips func() []string) *Scheduler {
	return &Scheduler{
		admitter:   admitter,
		requester:  requester,
		reputation: reputation,
		tips:       tips,
		rate:       params.DefaultSchedulingRate,
		queue:      map[string]map[string]*message.Message{},
		scores:     map[string]float64{},
		pending:    map[string]*PendingMessage{},
	}
}

// QueueMessage enqueues msg under its issuer's FIFO and recomputes that
// issuer's score. Safe to call from any goroutine.
func (s *Scheduler) QueueMessage(msg *message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queueMessage(msg)
}

func (s *Scheduler) queueMessage(msg *message.Message) {
	issuer := msg.NodeID

	bucket, ok := s.queue[issuer]
	if !ok {
		bucket = map[string]*message.Message{}
		s.queue[issuer] = bucket
	}
	bucket[msg.Hash] = msg

	s.updateScore(issuer)
}

// updateScore recomputes issuer's score as balance / admissible-count,
// removing the score entirely once no admissible messages remain,
// grounded on Scheduler.update_score.
func (s *Scheduler) updateScore(issuer string) {
	bucket, ok := s.queue[issuer]
	if !ok {
		delete(s.scores, issuer)
		return
	}

	now := time.Now().Unix()
	admissible := 0
	for _, m := range bucket {
		if m.Timestamp <= now {
			admissible++
		}
	}

	if admissible == 0 {
		delete(s.scores, issuer)
		return
	}

	s.scores[issuer] = float64(s.reputation.Balance(issuer)) / float64(admissible)
}

func (s *Scheduler) nextIssuer() (string, bool) {
	var best string
	bestScore := 0.0
	first := true

	for issuer, sc := range s.scores {
		if first || sc > bestScore {
			best = issuer
			bestScore = sc
			first = false
		}
	}

	return best, !first
}

// processNext dequeues the oldest message from the highest-scoring
// issuer's queue and hands it to the admitter, grounded on
// Scheduler.process_next_message / add_new_msg.
func (s *Scheduler) processNext() {
	issuer, ok := s.nextIssuer()
	if !ok {
		return
	}

	bucket := s.queue[issuer]

	var oldest *message.Message
	for _, m := range bucket {
		if oldest == nil || m.Timestamp < oldest.Timestamp {
			oldest = m
		}
	}

	delete(bucket, oldest.Hash)
	if len(bucket) == 0 {
		delete(s.queue, issuer)
	}

	s.admit(oldest)

	s.updateScore(issuer)
}

func (s *Scheduler) admit(msg *message.Message) {
	result := s.admitter.AdmitMessage(msg)
	if result.Accepted {
		return
	}

	if len(result.InvalidParents) > 0 {
		// A weak-parent-eligible message: the admitter already routed it
		// accordingly (or discarded it); the scheduler has nothing further
		// to do.
		return
	}

	s.addPending(msg, result.UnknownParents)
}

// addPending registers msg as blocked on missing, requesting the parents
// (or, if msg has aged past RequestChildrenAfter, the children of our
// current tips instead, to catch a node back up after falling behind).
func (s *Scheduler) addPending(msg *message.Message, missing []string) {
	if existing, ok := s.pending[msg.Hash]; ok {
		existing.AddMissing(missing)
	} else {
		s.pending[msg.Hash] = NewPendingMessage(msg, missing)
	}

	age := time.Since(time.Unix(msg.Timestamp, 0))
	if age >= params.RequestChildrenAfter {
		s.requester.RequestMsgs(msg, s.tips(), true)
	} else {
		s.requester.RequestMsgs(msg, missing, false)
	}
}

// AddVote records a peer's vote on one of a pending message's missing
// parents and re-evaluates whether the pending message is now settled.
// Safe to call from any goroutine.
func (s *Scheduler) AddVote(initialHash, parentHash, voterID string, msg *message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.pending[initialHash]
	if !ok {
		return
	}

	pending.AddVote(parentHash, voterID, msg)
	s.resolvePending(initialHash, pending)
}

func (s *Scheduler) resolvePending(hash string, pending *PendingMessage) {
	reputation := func(voterID string) float64 { return float64(s.reputation.Balance(voterID)) }
	r := pending.Resolve(reputation)

	for _, parent := range r.accepted {
		s.queueMessage(parent)
	}
	for _, rejectedHash := range r.rejected {
		logs.Scheduler.Debugf("rejecting missing parent %s for pending message %s", rejectedHash, hash)
	}

	if r.settled {
		delete(s.pending, hash)
		s.queueMessage(pending.Msg)
	}
}

// sweepPending re-evaluates every pending message, used each tick so a
// message whose PENDING_WINDOW elapsed without enough votes still gets
// decided even absent a fresh vote.
func (s *Scheduler) sweepPending() {
	hashes := make([]string, 0, len(s.pending))
	for h := range s.pending {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	for _, h := range hashes {
		if pending, ok := s.pending[h]; ok {
			s.resolvePending(h, pending)
		}
	}
}

// Run ticks the scheduler every s.rate until ctx is cancelled, grounded on
// Scheduler.run.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.rate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if len(s.scores) > 0 {
				s.processNext()
			}
			s.sweepPending()
			s.mu.Unlock()
		}
	}
}
