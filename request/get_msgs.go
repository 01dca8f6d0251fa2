package request

import (
	"encoding/json"
	"math/rand"

	"github.com/tcoin-network/tcoind/params"
	"github.com/tcoin-network/tcoind/tangle/message"
)

// TangleSource is the subset of tangle access GetMsgs needs to respond,
// implemented by tangle.Tangle.
type TangleSource interface {
	GetMessage(hash string) (*message.Message, bool)
	GetDirectChildren(hash string) map[string]*message.Message
}

// GetMsgsPayload requests either the messages at the given hashes, or (if
// History is set) the direct children of each, grounded on
// get_msgs.py: GetMsgs.
type GetMsgsPayload struct {
	Initial json.RawMessage `json:"initial"`
	Msgs    []string        `json:"msgs"`
	History bool            `json:"history"`
}

// NewGetMsgsPayload builds a GetMsgs payload. initial, if non-nil, is the
// pending message this request exists to unblock; it is echoed back to the
// requester's own callback once satisfied, never sent to the responder's
// tangle.
func NewGetMsgsPayload(initial *message.Message, msgs []string, history bool) (GetMsgsPayload, error) {
	payload := GetMsgsPayload{Msgs: msgs, History: history}
	if initial == nil {
		return payload, nil
	}

	raw, err := json.Marshal(initial)
	if err != nil {
		return GetMsgsPayload{}, err
	}
	payload.Initial = raw
	return payload, nil
}

// RespondGetMsgs answers a GetMsgs request: either the messages at the
// requested hashes (nil for unknown ones), or -- when history is set --
// the union of each hash's direct children, grounded on GetMsgs.respond.
func RespondGetMsgs(tn TangleSource, payload GetMsgsPayload) (json.RawMessage, error) {
	tips := payload.Msgs
	if len(tips) > params.MaxTipsRequested {
		shuffled := append([]string{}, tips...)
		rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		tips = shuffled[:params.MaxTipsRequested]
	}

	result := map[string]*message.Message{}

	if payload.History {
		for _, hash := range tips {
			children := tn.GetDirectChildren(hash)
			for id, m := range children {
				if _, exists := result[id]; !exists {
					result[id] = m
				}
			}
		}
	} else {
		for _, hash := range tips {
			m, _ := tn.GetMessage(hash)
			result[hash] = m
		}
	}

	return json.Marshal(result)
}

// PendingSource is the subset of scheduler access a GetMsgs response needs
// to record votes against its pending message.
type PendingSource interface {
	AddVote(initialHash, parentHash string, voterID string, msg *message.Message)
}

// ReceiveGetMsgs records each returned (or absent) message as a vote on the
// pending message's missing parents, grounded on GetMsgs.receive.
func ReceiveGetMsgs(pending PendingSource, voterID string, payload GetMsgsPayload, response json.RawMessage) error {
	if response == nil {
		return nil
	}

	var msgs map[string]*message.Message
	if err := json.Unmarshal(response, &msgs); err != nil {
		return err
	}

	var initial message.Message
	if err := json.Unmarshal(payload.Initial, &initial); err != nil {
		return err
	}

	requested := map[string]bool{}
	for _, h := range payload.Msgs {
		requested[h] = true
	}

	for id, m := range msgs {
		if !requested[id] {
			continue
		}
		pending.AddVote(initial.Hash, id, voterID, m)
	}

	return nil
}
