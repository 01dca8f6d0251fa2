// Package tangle implements the DAG ledger: the message graph, its tips,
// its wallet/invalid-pool state, and the branch subsystem that resolves
// conflicting transactions by approval weight. Grounded on
// original_source/tcoin/tangle/tangle.py.
package tangle

import (
	"math/rand"
	"sync"
	"time"

	"github.com/tcoin-network/tcoind/logs"
	"github.com/tcoin-network/tcoind/params"
	"github.com/tcoin-network/tcoind/tangle/message"
)

// Tangle is the node's single replica of the ledger. Every mutating method
// is intended to be called from the scheduler's single writer goroutine;
// read-only accessors take a shared lock and are safe to call from any
// goroutine (request responders, the Core API).
type Tangle struct {
	mu sync.RWMutex

	msgs       map[string]*message.Message
	strongTips map[string]*message.Message
	weakTips   map[string]*message.Message
	branches   map[BranchKey]*BranchManager
	state      *State

	difficultyCache map[string]int

	// Signature is the node wallet's signature over the snapshot hash,
	// set on Save/Load. It's carried here (rather than recomputed) so a
	// freshly loaded tangle can still report the signature it trusted.
	Signature string
}

// BranchReference pairs a conflict branch with the manager it belongs to,
// grounded on tangle.py: BranchReference.
type BranchReference struct {
	Branch  *Branch
	Manager *BranchManager
}

// New returns a tangle containing only the genesis message.
func New() *Tangle {
	t := &Tangle{
		msgs:            map[string]*message.Message{},
		strongTips:      map[string]*message.Message{},
		weakTips:        map[string]*message.Message{},
		branches:        map[BranchKey]*BranchManager{},
		state:           NewState(),
		difficultyCache: map[string]int{},
	}
	t.addMsg(message.Genesis(), nil)
	return t
}

// GetBalance returns address's current balance (0 if unknown).
func (t *Tangle) GetBalance(address string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Balance(address)
}

// Balance implements message.TangleView.
func (t *Tangle) Balance(address string) int64 { return t.GetBalance(address) }

// InInvalidPool implements message.TangleView.
func (t *Tangle) InInvalidPool(hash string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.InInvalidPool(hash)
}

// AddInvalidMessage records hash as known-invalid.
func (t *Tangle) AddInvalidMessage(hash string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.AddInvalidMessage(hash)
}

// NextIndex implements message.TangleView: the count of messages already
// issued by address is the index the next one must use.
func (t *Tangle) NextIndex(address string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.getTransactionIndexLocked(address)
}

func (t *Tangle) getTransactionIndexLocked(address string) int {
	count := 0
	for _, m := range t.allMsgsLocked() {
		if m.Address() == address {
			count++
		}
	}
	return count
}

// GetMessage implements message.TangleView.
func (t *Tangle) GetMessage(hash string) (*message.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.getMessageLocked(hash)
}

func (t *Tangle) getMessageLocked(hash string) (*message.Message, bool) {
	if m, ok := t.msgs[hash]; ok {
		return m, true
	}
	if m, ok := t.strongTips[hash]; ok {
		return m, true
	}
	if m, ok := t.weakTips[hash]; ok {
		return m, true
	}
	return nil, false
}

// GetDirectChildren returns the direct approved children of hash, or nil if
// hash is not an approved (non-tip) message.
func (t *Tangle) GetDirectChildren(hash string) map[string]*message.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, ok := t.msgs[hash]; !ok {
		return nil
	}

	children := map[string]*message.Message{}
	for id, m := range t.msgs {
		if _, has := m.Parents[hash]; has {
			children[id] = m
		}
	}
	return children
}

func (t *Tangle) allTipsLocked() map[string]*message.Message {
	all := make(map[string]*message.Message, len(t.strongTips)+len(t.weakTips))
	for h, m := range t.strongTips {
		all[h] = m
	}
	for h, m := range t.weakTips {
		all[h] = m
	}
	return all
}

func (t *Tangle) allMsgsLocked() map[string]*message.Message {
	all := make(map[string]*message.Message, len(t.msgs)+len(t.strongTips)+len(t.weakTips))
	for h, m := range t.msgs {
		all[h] = m
	}
	for h, m := range t.strongTips {
		all[h] = m
	}
	for h, m := range t.weakTips {
		all[h] = m
	}
	return all
}

// AllTips returns the hash of every current strong and weak tip.
func (t *Tangle) AllTips() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	all := t.allTipsLocked()
	hashes := make([]string, 0, len(all))
	for h := range all {
		hashes = append(hashes, h)
	}
	return hashes
}

// AllMsgs returns every known message: approved, strong-tip, and weak-tip.
func (t *Tangle) AllMsgs() map[string]*message.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allMsgsLocked()
}

// purgeTips drops tips older than params.MaxTipAge, reverting their state
// effect, and keeps the genesis tip (if present) regardless of age.
func (t *Tangle) purgeTips(tips map[string]*message.Message) map[string]*message.Message {
	now := time.Now().Unix()
	maxAgeSeconds := int64(params.MaxTipAge / time.Second)

	valid := map[string]*message.Message{}
	for h, m := range tips {
		if m.Timestamp+maxAgeSeconds >= now {
			valid[h] = m
		} else {
			m.ApplyState(t.state, false)
			logs.Tangle.Debugf("purged stale tip %s from issuer %s", h, m.NodeID)
		}
	}

	if gm, ok := tips[message.GenesisHash]; ok {
		valid[message.GenesisHash] = gm
	}

	return valid
}

// SelectTips purges stale tips and samples up to params.MaxParents of the
// remainder, labelling each strong or weak by its current tip-set
// membership. Returns a single strong genesis parent when there are no
// tips at all. Grounded on Tangle.select_tips.
func (t *Tangle) SelectTips() map[string]message.LinkKind {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.selectTipsLocked()
}

func (t *Tangle) selectTipsLocked() map[string]message.LinkKind {
	t.strongTips = t.purgeTips(t.strongTips)
	t.weakTips = t.purgeTips(t.weakTips)

	all := t.allTipsLocked()
	if len(all) == 0 {
		return map[string]message.LinkKind{message.GenesisHash: message.LinkStrong}
	}

	hashes := make([]string, 0, len(all))
	for h := range all {
		hashes = append(hashes, h)
	}
	rand.Shuffle(len(hashes), func(i, j int) { hashes[i], hashes[j] = hashes[j], hashes[i] })

	amt := params.MaxParents
	if len(hashes) < amt {
		amt = len(hashes)
	}

	result := map[string]message.LinkKind{}
	for _, h := range hashes[:amt] {
		if _, weak := t.weakTips[h]; weak {
			result[h] = message.LinkWeak
		} else {
			result[h] = message.LinkStrong
		}
	}
	return result
}

func (t *Tangle) addApprovedMsg(m *message.Message) {
	t.msgs[m.Hash] = m
	m.ApplyState(t.state, true)
}

// AddMessage is the public, locked entry point used by the scheduler to
// admit a validated message, including conflict detection. invalidParents
// is the set of parent hashes the caller already determined are
// known-invalid (from Message.IsValid); a non-empty set routes the message
// to the weak-tip pool instead of the strong one.
func (t *Tangle) AddMessage(m *message.Message, invalidParents []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parentHashes := map[string]bool{}
	for h := range m.Parents {
		parentHashes[h] = true
	}

	refs := t.findOccursInBranch(parentHashes, nil)
	if t.findDuplicatesFromBranches(m, refs) {
		return
	}

	t.addMsg(m, invalidParents)
}

// addMsg implements the non-conflict admission pipeline, grounded on
// Tangle.add_msg.
func (t *Tangle) addMsg(m *message.Message, invalidParents []string) {
	if m.Hash == message.GenesisHash {
		t.addApprovedMsg(m)
		return
	}

	if len(invalidParents) == 0 {
		for parentHash, kind := range m.Parents {
			if parentHash == message.GenesisHash {
				continue
			}

			parentMsg, known := t.getMessageLocked(parentHash)
			if !known {
				continue
			}

			if _, isTip := t.allTipsLocked()[parentHash]; !isTip {
				continue
			}

			if len(t.findChildrenLocked(parentHash, nil)) > 1 {
				if kind == message.LinkStrong {
					delete(t.strongTips, parentHash)
				} else {
					delete(t.weakTips, parentHash)
				}
				// The parent's state effect was applied when it became a
				// tip; promotion only moves it into the approved set.
				t.msgs[parentHash] = parentMsg
			}
		}

		t.strongTips[m.Hash] = m
	} else {
		t.weakTips[m.Hash] = m
	}

	m.ApplyState(t.state, true)
}

// RemoveMessage reverses msg's state effect and removes it from whichever
// set (approved/strong-tip/weak-tip) it belongs to.
func (t *Tangle) RemoveMessage(m *message.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeMsg(m)
}

func (t *Tangle) removeMsg(m *message.Message) {
	removed := true
	switch {
	case has(t.msgs, m.Hash):
		delete(t.msgs, m.Hash)
	case has(t.strongTips, m.Hash):
		delete(t.strongTips, m.Hash)
	case has(t.weakTips, m.Hash):
		delete(t.weakTips, m.Hash)
	default:
		removed = false
	}

	if removed {
		m.ApplyState(t.state, false)
	}
}

func has(m map[string]*message.Message, hash string) bool {
	_, ok := m[hash]
	return ok
}

func (t *Tangle) findChildrenLocked(hash string, stop func(map[string]*message.Message) bool) map[string]*message.Message {
	total := map[string]*message.Message{}
	t.findChildrenInto(hash, stop, total)
	return total
}

func (t *Tangle) findChildrenInto(hash string, stop func(map[string]*message.Message) bool, total map[string]*message.Message) {
	all := t.allMsgsLocked()

	children := map[string]*message.Message{}
	for id, m := range all {
		if _, has := m.Parents[hash]; has {
			children[id] = m
		}
	}

	for id, m := range children {
		total[id] = m
	}

	if stop != nil && stop(total) {
		return
	}

	for id := range children {
		t.findChildrenInto(id, stop, total)
	}
}

// FindChildren recursively collects every descendant of hash across the
// whole tangle.
func (t *Tangle) FindChildren(hash string) map[string]*message.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.findChildrenLocked(hash, nil)
}

// FindMsgFromIndex returns the top-level message matching id, if any.
func (t *Tangle) FindMsgFromIndex(id message.ID) (*message.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.findMsgFromIndexLocked(id)
}

func (t *Tangle) findMsgFromIndexLocked(id message.ID) (*message.Message, bool) {
	for _, m := range t.allMsgsLocked() {
		if m.NodeID == id.NodeID && m.Index == id.Index {
			return m, true
		}
	}
	return nil, false
}

// GetTransactionIndex returns the number of messages address has issued,
// i.e. the index its next message must use.
func (t *Tangle) GetTransactionIndex(address string) int {
	return t.NextIndex(address)
}

// Difficulty implements message.TangleView: the per-issuer proof-of-work
// difficulty, memoized by message hash.
func (t *Tangle) Difficulty(m *message.Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.difficultyLocked(m)
}

func (t *Tangle) difficultyLocked(m *message.Message) int {
	if d, ok := t.difficultyCache[m.Hash]; ok {
		return d
	}

	windowStart := m.Timestamp - params.TimeWindow
	count := 0
	for _, other := range t.msgs {
		if other.NodeID == m.NodeID && other.Timestamp > windowStart && other.Timestamp < m.Timestamp {
			count++
		}
	}

	d := params.BaseDifficulty + int(params.Gamma*float64(count))
	t.difficultyCache[m.Hash] = d
	return d
}

// IsMessageFinalized reports whether msg's descendants have accumulated
// enough approval weight to be irreversible. Unlike the Python source
// (which re-sums the full cumulative total at every recursion level, a
// bug that double-counts), this sums each descendant's weight exactly
// once -- see DESIGN.md.
func (t *Tangle) IsMessageFinalized(m *message.Message) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.isMessageFinalizedLocked(m.Hash)
}

func (t *Tangle) isMessageFinalizedLocked(hash string) bool {
	all := t.allMsgsLocked()

	weight := 0
	visited := map[string]bool{}
	queue := []string{hash}

	for len(queue) > 0 && weight < params.FinalityScore {
		current := queue[0]
		queue = queue[1:]

		for id, m := range all {
			if visited[id] {
				continue
			}
			if _, has := m.Parents[current]; has {
				visited[id] = true
				weight += m.ApprovalWeight()
				queue = append(queue, id)
			}
		}
	}

	return weight >= params.FinalityScore
}

// removeBranchManager collapses a finalized manager out of the tangle.
func (t *Tangle) removeBranchManager(key BranchKey) {
	delete(t.branches, key)
}

// findOccursInBranch finds every branch occurrence of hashes. A nil
// branchKey searches every top-level manager; a non-nil one restricts the
// search to that manager's direct conflicts, grounded on
// Tangle.find_occurs_in_branch.
func (t *Tangle) findOccursInBranch(hashes map[string]bool, branchKey *BranchKey) []BranchReference {
	if branchKey == nil {
		var occurs []BranchReference
		for key := range t.branches {
			k := key
			occurs = append(occurs, t.findOccursInBranch(hashes, &k)...)
		}
		return occurs
	}

	manager, ok := t.branches[*branchKey]
	if !ok {
		return nil
	}

	var occurs []BranchReference
	for _, conflict := range manager.Conflicts {
		if len(conflict.GetConflictMsgs(hashes)) > 0 {
			occurs = append(occurs, BranchReference{Branch: conflict, Manager: manager})
		}
	}
	return occurs
}

// findDuplicatesFromBranches implements the conflict-discovery algorithm:
// given the branch occurrences of a new message's parent
// set, either attach it as a fresh conflict inside the deepest matching
// branch, or -- if its parents occur nowhere in a branch -- check whether
// its (issuer, index) already exists at the top level and spin up a new
// branch manager if so. Returns true if the message was handled as part of
// a conflict (and therefore should not also go through the normal
// non-conflict admission path).
func (t *Tangle) findDuplicatesFromBranches(m *message.Message, parentBranches []BranchReference) bool {
	id := message.ID{NodeID: m.NodeID, Index: m.Index}

	if len(parentBranches) == 0 {
		duplicate, ok := t.findMsgFromIndexLocked(id)
		if ok && duplicate.Hash != m.Hash {
			t.createNewBranch(m, duplicate)
			return true
		}
		return false
	}

	deepRef := parentBranches[0]
	for _, ref := range parentBranches[1:] {
		if len(ref.Manager.Nesting) > len(deepRef.Manager.Nesting) {
			deepRef = ref
		}
	}

	key := BranchKey{NodeID: m.NodeID, Index: m.Index}

	if existingManager, ok := deepRef.Branch.FindExistingDuplicate(key); ok {
		branch := NewBranch(m)
		existingManager.AddConflict(branch)
	} else {
		duplicate := deepRef.Branch.FindNewDuplicate(id)
		if duplicate == nil {
			return false
		}

		children := deepRef.Branch.FindChildren(duplicate.Hash)
		for _, child := range children {
			deepRef.Branch.RemoveMsg(child)
		}

		cBranch := NewBranch(duplicate)
		cBranch.AddMsgs(mapValues(children))

		branch := NewBranch(m)

		newNesting := append(append([]NestingLayer{}, deepRef.Manager.Nesting...),
			NestingLayer{ManagerKey: deepRef.Manager.Key(), BranchID: deepRef.Branch.ID()})

		manager := NewBranchManager(m.NodeID, m.Index, cBranch, newNesting)
		manager.AddConflict(branch)

		deepRef.Branch.AddBranch(manager)
	}

	// Matches the Python source literally: only the outer (deepRef)
	// manager/branch is re-registered and re-evaluated here, not the
	// freshly created nested manager. The ordering of nested-conflict
	// resolution is underspecified beyond this point, so this preserves
	// the original's literal behavior rather than guessing a different
	// one (see DESIGN.md).
	t.updateBranchManager(deepRef.Manager)
	deepRef.Manager.UpdateConflict(t, deepRef.Branch)

	return true
}

func mapValues(m map[string]*message.Message) []*message.Message {
	values := make([]*message.Message, 0, len(m))
	for _, v := range m {
		values = append(values, v)
	}
	return values
}

// createNewBranch spawns a top-level BranchManager for a duplicate
// (issuer, index) pair discovered at the main tangle level, grounded on
// Tangle.create_new_branch.
func (t *Tangle) createNewBranch(m, conflict *message.Message) {
	key := BranchKey{NodeID: m.NodeID, Index: m.Index}

	if existing, ok := t.branches[key]; ok {
		hashes := map[string]bool{m.Hash: true}
		if len(t.findOccursInBranch(hashes, &key)) == 0 {
			branch := NewBranch(m)
			existing.UpdateConflict(t, branch)
		}
		return
	}

	children := t.findChildrenLocked(conflict.Hash, nil)

	branch := NewBranch(m)
	cBranch := NewBranch(conflict)
	cBranch.AddMsgs(mapValues(children))

	manager := NewBranchManager(m.NodeID, m.Index, cBranch, nil)
	manager.AddConflict(branch)

	t.branches[key] = manager
}

// updateBranchManager re-registers manager at the position described by
// its nesting path, grounded on Tangle.update_branch_manager.
func (t *Tangle) updateBranchManager(manager *BranchManager) {
	t.branches = updateBranchMap(t.branches, manager.Nesting, manager)
}

func updateBranchMap(bm map[BranchKey]*BranchManager, nesting []NestingLayer, manager *BranchManager) map[BranchKey]*BranchManager {
	if len(nesting) == 0 {
		bm[manager.Key()] = manager
		return bm
	}

	layer := nesting[0]
	mgr := bm[layer.ManagerKey]
	conflict := mgr.Conflicts[layer.BranchID]
	conflict.Branches = updateBranchMap(conflict.Branches, nesting[1:], manager)
	return bm
}

// GetState computes the effective state a branch reference contributes:
// the main tangle's state, plus the branch's own delta, minus the current
// main branch's delta at that conflict point. Grounded on Tangle.get_state.
func (t *Tangle) GetState(ref BranchReference) *State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.getStateLocked(ref)
}

func (t *Tangle) getStateLocked(ref BranchReference) *State {
	leafKey := ref.Manager.Key()
	leafBranchID := ref.Branch.ID()

	branchState := branchStateAlongNesting(t.branches, ref.Manager.Nesting, leafKey, leafBranchID, false, nil)
	mainState := branchStateAlongNesting(t.branches, ref.Manager.Nesting, leafKey, leafBranchID, true, nil)

	return t.state.Merge(branchState, true).Merge(mainState, false)
}

func branchStateAlongNesting(branchMap map[BranchKey]*BranchManager, nesting []NestingLayer, leafKey BranchKey, leafBranchID string, useMain bool, acc *State) *State {
	var mKey BranchKey
	var bID string
	if len(nesting) > 0 {
		mKey = nesting[0].ManagerKey
		bID = nesting[0].BranchID
	} else {
		mKey = leafKey
		bID = leafBranchID
	}

	manager := branchMap[mKey]
	branch := manager.Conflicts[bID]

	var newBranch *Branch
	if useMain {
		newBranch = manager.MainBranch
	} else {
		newBranch = branch
	}

	var state *State
	if acc == nil {
		state = newBranch.State
	} else {
		state = acc.Merge(newBranch.State, true)
	}

	if len(nesting) > 0 {
		return branchStateAlongNesting(branch.Branches, nesting[1:], leafKey, leafBranchID, useMain, state)
	}

	return state
}
