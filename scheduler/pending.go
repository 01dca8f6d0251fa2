// Package scheduler implements the single cooperative worker that admits
// queued messages into the tangle, and the pending-parent subcomponent
// that resolves messages blocked on unknown parents via peer votes.
// Grounded on original_source/tcoin/p2p/nodes/scheduler.py, upgraded from
// the original's bare presence/absence tally to a reputation-weighted
// vote score.
package scheduler

import (
	"time"

	"github.com/tcoin-network/tcoind/params"
	"github.com/tcoin-network/tcoind/tangle/message"
)

// vote is one peer's report on a missing parent: the parent message
// itself if the peer has it, or nil if the peer reports it absent.
type vote struct {
	msg     *message.Message
	present bool
}

// PendingMessage tracks a queued message blocked on one or more parents
// the tangle doesn't yet know about.
type PendingMessage struct {
	Msg      *message.Message
	Missing  map[string]map[string]vote // parent hash -> voter id -> vote
	Deadline time.Time
}

// NewPendingMessage creates a pending entry for msg, blocked on the given
// missing parent hashes.
func NewPendingMessage(msg *message.Message, missing []string) *PendingMessage {
	p := &PendingMessage{
		Msg:      msg,
		Missing:  map[string]map[string]vote{},
		Deadline: time.Now().Add(params.PendingWindow),
	}
	for _, h := range missing {
		p.Missing[h] = map[string]vote{}
	}
	return p
}

// AddMissing merges additional missing-parent hashes into an existing
// pending entry, used when a second GetMsgs round discovers more unknown
// parents on retry.
func (p *PendingMessage) AddMissing(missing []string) {
	for _, h := range missing {
		if _, ok := p.Missing[h]; !ok {
			p.Missing[h] = map[string]vote{}
		}
	}
}

// AddVote records voterID's report on parentHash: msg if the peer has it,
// nil if the peer reports it absent.
func (p *PendingMessage) AddVote(parentHash, voterID string, msg *message.Message) {
	votes, ok := p.Missing[parentHash]
	if !ok {
		return
	}
	votes[voterID] = vote{msg: msg, present: msg != nil}
}

// score computes the reputation-weighted vote tally for one parent hash:
// Σ rep(voter) · (+1 if present else -1).
func score(votes map[string]vote, reputation func(voterID string) float64) (float64, *message.Message) {
	total := 0.0
	byWeight := map[string]float64{} // candidate hash -> accumulated weight
	byMsg := map[string]*message.Message{}

	for voterID, v := range votes {
		rep := reputation(voterID)
		if v.present {
			total += rep
			byWeight[v.msg.Hash] += rep
			byMsg[v.msg.Hash] = v.msg
		} else {
			total -= rep
		}
	}

	var winner *message.Message
	bestWeight := -1.0
	for hash, w := range byWeight {
		if w > bestWeight {
			bestWeight = w
			winner = byMsg[hash]
		}
	}

	return total, winner
}

// resolution is returned by Resolve describing what became of each missing
// parent once its vote score (or the pending window) decided it.
type resolution struct {
	accepted []*message.Message // parents to admit
	rejected []string           // parent hashes to mark invalid
	settled  bool               // every missing parent has been decided
}

// Resolve evaluates every missing parent's current vote score against
// PENDING_THRESHOLD, deciding by majority once the window elapses,
// grounded on PendingMessage.update_missing (with the original's TODOs
// replaced by a complete weighted-scoring implementation).
func (p *PendingMessage) Resolve(reputation func(voterID string) float64) resolution {
	now := time.Now()
	expired := now.After(p.Deadline)

	r := resolution{settled: true}

	for parentHash, votes := range p.Missing {
		s, winner := score(votes, reputation)

		switch {
		case s >= params.PendingThreshold:
			if winner != nil {
				r.accepted = append(r.accepted, winner)
			}
			delete(p.Missing, parentHash)
		case s <= -params.PendingThreshold:
			r.rejected = append(r.rejected, parentHash)
			delete(p.Missing, parentHash)
		case expired && s > 0:
			if winner != nil {
				r.accepted = append(r.accepted, winner)
			}
			delete(p.Missing, parentHash)
		case expired && s <= 0:
			r.rejected = append(r.rejected, parentHash)
			delete(p.Missing, parentHash)
		default:
			r.settled = false
		}
	}

	return r
}
