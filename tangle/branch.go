package tangle

import (
	"github.com/tcoin-network/tcoind/params"
	"github.com/tcoin-network/tcoind/tangle/message"
)

// BranchKey identifies a conflict point: the (issuer, index) pair that two
// or more messages disagree over.
type BranchKey struct {
	NodeID string
	Index  int
}

// NestingLayer is one step of a BranchManager's path back to the main
// tangle: the manager it's nested under, and which of that manager's
// conflict branches it's nested inside.
type NestingLayer struct {
	ManagerKey BranchKey
	BranchID   string
}

// Branch is a tentative DAG region attached at a conflict point, grounded
// on original_source/tcoin/tangle/tangle.py: Branch.
type Branch struct {
	Founder  *message.Message
	Msgs     map[string]*message.Message
	Branches map[BranchKey]*BranchManager
	State    *State
}

// NewBranch creates a branch rooted at founder and immediately adds it.
func NewBranch(founder *message.Message) *Branch {
	b := &Branch{
		Founder:  founder,
		Msgs:     map[string]*message.Message{},
		Branches: map[BranchKey]*BranchManager{},
		State:    NewState(),
	}
	b.AddMsg(founder)
	return b
}

// ID is the branch's identity: its founding message's hash.
func (b *Branch) ID() string {
	return b.Founder.Hash
}

// ApprovalWeight sums the approval weight of every message in the branch.
func (b *Branch) ApprovalWeight() int {
	total := 0
	for _, m := range b.Msgs {
		total += m.ApprovalWeight()
	}
	return total
}

// IsFinal reports whether the branch has accumulated enough approval
// weight to be considered irreversible.
func (b *Branch) IsFinal() bool {
	return b.ApprovalWeight() >= params.FinalityScore
}

// FindChildren recursively collects the branch-local descendants of hash.
func (b *Branch) FindChildren(hash string) map[string]*message.Message {
	result := map[string]*message.Message{}
	b.findChildren([]string{hash}, result)
	return result
}

func (b *Branch) findChildren(hashes []string, total map[string]*message.Message) {
	want := map[string]bool{}
	for _, h := range hashes {
		want[h] = true
	}

	found := map[string]*message.Message{}
	for id, m := range b.Msgs {
		for parentHash := range m.Parents {
			if want[parentHash] {
				found[id] = m
				break
			}
		}
	}

	if len(found) == 0 {
		return
	}

	next := make([]string, 0, len(found))
	for id, m := range found {
		total[id] = m
		next = append(next, id)
	}
	b.findChildren(next, total)
}

// AddBranch registers a nested BranchManager discovered inside this branch.
func (b *Branch) AddBranch(manager *BranchManager) {
	b.Branches[manager.Key()] = manager
}

// FindNewDuplicate returns the branch-local message sharing msg's ID, if
// any -- the "find_new_duplicate" case where the conflict is discovered
// directly inside this branch's own messages.
func (b *Branch) FindNewDuplicate(id message.ID) *message.Message {
	for _, m := range b.Msgs {
		if m.NodeID == id.NodeID && m.Index == id.Index {
			return m
		}
	}
	return nil
}

// FindExistingDuplicate reports whether this branch already has a nested
// BranchManager at the given conflict key.
func (b *Branch) FindExistingDuplicate(key BranchKey) (*BranchManager, bool) {
	m, ok := b.Branches[key]
	return m, ok
}

// GetConflictMsgs returns the subset of hashes that occur anywhere in this
// branch or its nested conflict branches.
func (b *Branch) GetConflictMsgs(hashes map[string]bool) map[string]bool {
	shared := map[string]bool{}
	for h := range hashes {
		if _, ok := b.Msgs[h]; ok {
			shared[h] = true
		}
	}

	for _, manager := range b.Branches {
		for _, conflict := range manager.Conflicts {
			for h := range conflict.GetConflictMsgs(hashes) {
				shared[h] = true
			}
		}
	}

	return shared
}

// RemoveMsg removes msg from the branch and reverts its state effect.
func (b *Branch) RemoveMsg(m *message.Message) {
	if _, ok := b.Msgs[m.Hash]; !ok {
		return
	}
	delete(b.Msgs, m.Hash)
	m.ApplyState(b.State, false)
}

// AddMsgs adds every message in msgs to the branch.
func (b *Branch) AddMsgs(msgs []*message.Message) {
	for _, m := range msgs {
		b.AddMsg(m)
	}
}

// AddMsg adds msg to the branch and applies its state effect.
func (b *Branch) AddMsg(m *message.Message) {
	b.Msgs[m.Hash] = m
	m.ApplyState(b.State, true)
}

// BranchManager is the container tracking competing branches at one
// conflict point, grounded on tangle.py: BranchManager.
type BranchManager struct {
	NodeID string
	Index  int

	MainBranch *Branch
	Conflicts  map[string]*Branch // keyed by Branch.ID()

	Nesting []NestingLayer
}

// NewBranchManager creates a manager with the given main branch and no
// conflicts yet.
func NewBranchManager(nodeID string, index int, mainBranch *Branch, nesting []NestingLayer) *BranchManager {
	return &BranchManager{
		NodeID:     nodeID,
		Index:      index,
		MainBranch: mainBranch,
		Conflicts:  map[string]*Branch{},
		Nesting:    nesting,
	}
}

// Key is the manager's identity: the (issuer, index) conflict point.
func (bm *BranchManager) Key() BranchKey {
	return BranchKey{NodeID: bm.NodeID, Index: bm.Index}
}

// AddConflict registers branch as a conflict alternative.
func (bm *BranchManager) AddConflict(branch *Branch) {
	bm.Conflicts[branch.ID()] = branch
}

// RemoveConflict unregisters branch as a conflict alternative.
func (bm *BranchManager) RemoveConflict(branch *Branch) {
	delete(bm.Conflicts, branch.ID())
}

// GetHeaviestBranch returns the conflict branch that should replace main,
// or nil if none yet qualifies, grounded on BranchManager.get_heaviest_branch.
func (bm *BranchManager) GetHeaviestBranch() *Branch {
	if bm.MainBranch.IsFinal() {
		return nil
	}

	var heaviest *Branch
	for _, c := range bm.Conflicts {
		if heaviest == nil || c.ApprovalWeight() > heaviest.ApprovalWeight() {
			heaviest = c
		}
	}
	if heaviest == nil {
		return nil
	}

	if heaviest.IsFinal() {
		return heaviest
	}

	threshold := float64(bm.MainBranch.ApprovalWeight()) * (1 + params.MainBranchThreshold)
	if float64(heaviest.ApprovalWeight()) >= threshold {
		return heaviest
	}

	return nil
}

// UpdateConflict registers branch as a conflict and, if it (or another
// conflict) now outweighs main by the required threshold or is final,
// swaps it in as the new main branch on t. Grounded on
// BranchManager.update_conflict.
func (bm *BranchManager) UpdateConflict(t *Tangle, branch *Branch) {
	allBranchMsgs := map[string]bool{}
	for h := range branch.Msgs {
		allBranchMsgs[h] = true
	}

	for _, m := range branch.Msgs {
		for parentHash, kind := range m.Parents {
			if kind != message.LinkStrong {
				continue
			}
			if !allBranchMsgs[parentHash] {
				// The branch still has messages whose parents aren't
				// all known within it yet; wait for more.
				return
			}
		}
	}

	bm.Conflicts[branch.ID()] = branch

	heaviest := bm.GetHeaviestBranch()
	if heaviest == nil {
		return
	}

	bm.RemoveConflict(heaviest)
	bm.AddConflict(bm.MainBranch)

	for _, m := range bm.MainBranch.Msgs {
		t.removeMsg(m)
	}

	bm.MainBranch = heaviest

	for _, m := range reverseMsgs(bm.MainBranch.Msgs) {
		t.addMsg(m, nil)
	}

	if bm.MainBranch.IsFinal() {
		t.removeBranchManager(bm.Key())
	}
}

// reverseMsgs orders msgs so parents are installed before their children,
// matching update_conflict's "adding in reverse order" comment: messages
// are stored newest-discovered-first in the branch's map insertion sense
// in Python (a dict), so here we order by an explicit parent-first walk.
func reverseMsgs(msgs map[string]*message.Message) []*message.Message {
	byHash := make(map[string]*message.Message, len(msgs))
	for h, m := range msgs {
		byHash[h] = m
	}

	installed := map[string]bool{}
	ordered := make([]*message.Message, 0, len(msgs))

	var visit func(m *message.Message)
	visit = func(m *message.Message) {
		if installed[m.Hash] {
			return
		}
		installed[m.Hash] = true
		for parentHash := range m.Parents {
			if parent, ok := byHash[parentHash]; ok {
				visit(parent)
			}
		}
		ordered = append(ordered, m)
	}

	for _, m := range byHash {
		visit(m)
	}

	return ordered
}
