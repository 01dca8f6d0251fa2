package tangle

import (
	"encoding/json"
	"fmt"

	"github.com/tcoin-network/tcoind/tangle/message"
	"github.com/tcoin-network/tcoind/wallet"
)

// snapshotDTO is the on-disk shape of a tangle: every message plus the
// branch subsystem's tentative conflicts, grounded on
// original_source/tcoin/tangle/tangle.py: Tangle.to_dict/from_dict.
type snapshotDTO struct {
	Msgs       []json.RawMessage  `json:"msgs"`
	Branches   []branchManagerDTO `json:"branches"`
	StrongTips []json.RawMessage  `json:"strong_tips"`
	WeakTips   []json.RawMessage  `json:"weak_tips"`
	Signature  string             `json:"signature"`
}

type branchManagerDTO struct {
	NodeID     string            `json:"node_id"`
	Index      int               `json:"index"`
	MainBranch branchDTO         `json:"main_branch"`
	Conflicts  []branchDTO       `json:"conflicts"`
	Nesting    []nestingLayerDTO `json:"nesting"`
}

type branchDTO struct {
	Founder json.RawMessage    `json:"founder"`
	Msgs    []json.RawMessage  `json:"msgs"`
	Nested  []branchManagerDTO `json:"nested"`
}

type nestingLayerDTO struct {
	ManagerNodeID string `json:"manager_node_id"`
	ManagerIndex  int    `json:"manager_index"`
	BranchID      string `json:"branch_id"`
}

func decodeMsg(raw json.RawMessage) (*message.Message, error) {
	var m message.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func encodeMsg(m *message.Message) (json.RawMessage, error) {
	return json.Marshal(m)
}

func branchToDTO(b *Branch) (branchDTO, error) {
	founder, err := encodeMsg(b.Founder)
	if err != nil {
		return branchDTO{}, err
	}

	dto := branchDTO{Founder: founder}
	for _, m := range b.Msgs {
		if m.Hash == b.Founder.Hash {
			continue
		}
		raw, err := encodeMsg(m)
		if err != nil {
			return branchDTO{}, err
		}
		dto.Msgs = append(dto.Msgs, raw)
	}

	for _, nested := range b.Branches {
		ndto, err := managerToDTO(nested)
		if err != nil {
			return branchDTO{}, err
		}
		dto.Nested = append(dto.Nested, ndto)
	}

	return dto, nil
}

func managerToDTO(bm *BranchManager) (branchManagerDTO, error) {
	mainDTO, err := branchToDTO(bm.MainBranch)
	if err != nil {
		return branchManagerDTO{}, err
	}

	dto := branchManagerDTO{
		NodeID:     bm.NodeID,
		Index:      bm.Index,
		MainBranch: mainDTO,
	}

	for _, c := range bm.Conflicts {
		cdto, err := branchToDTO(c)
		if err != nil {
			return branchManagerDTO{}, err
		}
		dto.Conflicts = append(dto.Conflicts, cdto)
	}

	for _, layer := range bm.Nesting {
		dto.Nesting = append(dto.Nesting, nestingLayerDTO{
			ManagerNodeID: layer.ManagerKey.NodeID,
			ManagerIndex:  layer.ManagerKey.Index,
			BranchID:      layer.BranchID,
		})
	}

	return dto, nil
}

func branchFromDTO(dto branchDTO) (*Branch, error) {
	founder, err := decodeMsg(dto.Founder)
	if err != nil {
		return nil, err
	}

	b := NewBranch(founder)

	for _, raw := range dto.Msgs {
		m, err := decodeMsg(raw)
		if err != nil {
			return nil, err
		}
		b.AddMsg(m)
	}

	for _, ndto := range dto.Nested {
		nested, err := managerFromDTO(ndto)
		if err != nil {
			return nil, err
		}
		b.AddBranch(nested)
	}

	return b, nil
}

func managerFromDTO(dto branchManagerDTO) (*BranchManager, error) {
	main, err := branchFromDTO(dto.MainBranch)
	if err != nil {
		return nil, err
	}

	nesting := make([]NestingLayer, 0, len(dto.Nesting))
	for _, l := range dto.Nesting {
		nesting = append(nesting, NestingLayer{
			ManagerKey: BranchKey{NodeID: l.ManagerNodeID, Index: l.ManagerIndex},
			BranchID:   l.BranchID,
		})
	}

	bm := NewBranchManager(dto.NodeID, dto.Index, main, nesting)

	for _, cdto := range dto.Conflicts {
		conflict, err := branchFromDTO(cdto)
		if err != nil {
			return nil, err
		}
		bm.AddConflict(conflict)
	}

	return bm, nil
}

// ToJSON serializes the tangle and signs the resulting document with w,
// grounded on Tangle.save.
func (t *Tangle) ToJSON(w *wallet.Wallet) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	dto := snapshotDTO{}

	for _, m := range t.msgs {
		raw, err := encodeMsg(m)
		if err != nil {
			return nil, err
		}
		dto.Msgs = append(dto.Msgs, raw)
	}
	for _, m := range t.strongTips {
		raw, err := encodeMsg(m)
		if err != nil {
			return nil, err
		}
		dto.StrongTips = append(dto.StrongTips, raw)
	}
	for _, m := range t.weakTips {
		raw, err := encodeMsg(m)
		if err != nil {
			return nil, err
		}
		dto.WeakTips = append(dto.WeakTips, raw)
	}
	for _, bm := range t.branches {
		bmDTO, err := managerToDTO(bm)
		if err != nil {
			return nil, err
		}
		dto.Branches = append(dto.Branches, bmDTO)
	}

	unsigned, err := json.Marshal(dto)
	if err != nil {
		return nil, err
	}
	dto.Signature = w.Sign(string(unsigned))

	return json.Marshal(dto)
}

// FromJSON rebuilds a tangle from a previously-saved document, verifying
// the document's signature was produced by address before trusting any of
// its contents, grounded on Tangle.from_save.
func FromJSON(data []byte, address string) (*Tangle, error) {
	var dto snapshotDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, err
	}

	signature := dto.Signature
	dto.Signature = ""
	unsigned, err := json.Marshal(dto)
	if err != nil {
		return nil, err
	}

	if !wallet.IsSignatureValid(address, signature, string(unsigned)) {
		return nil, fmt.Errorf("snapshot signature does not match %s", address)
	}

	t := &Tangle{
		msgs:            map[string]*message.Message{},
		strongTips:      map[string]*message.Message{},
		weakTips:        map[string]*message.Message{},
		branches:        map[BranchKey]*BranchManager{},
		state:           NewState(),
		difficultyCache: map[string]int{},
		Signature:       signature,
	}

	for _, raw := range dto.Msgs {
		m, err := decodeMsg(raw)
		if err != nil {
			return nil, err
		}
		t.addMsg(m, nil)
	}
	for _, raw := range dto.StrongTips {
		m, err := decodeMsg(raw)
		if err != nil {
			return nil, err
		}
		t.addMsg(m, nil)
	}
	for _, raw := range dto.WeakTips {
		m, err := decodeMsg(raw)
		if err != nil {
			return nil, err
		}
		t.addMsg(m, []string{"unknown"}) // routes to weak tips on replay
	}

	for _, bmDTO := range dto.Branches {
		bm, err := managerFromDTO(bmDTO)
		if err != nil {
			return nil, err
		}
		t.branches[bm.Key()] = bm
	}

	return t, nil
}

// Save serializes and signs the tangle with w, recording the signature on
// the receiver for later inspection.
func (t *Tangle) Save(w *wallet.Wallet) ([]byte, error) {
	data, err := t.ToJSON(w)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	var dto snapshotDTO
	if err := json.Unmarshal(data, &dto); err == nil {
		t.Signature = dto.Signature
	}
	t.mu.Unlock()

	return data, nil
}

// Load rebuilds a tangle previously saved by the wallet at address.
func Load(data []byte, address string) (*Tangle, error) {
	return FromJSON(data, address)
}
