package request

import "encoding/json"

// PeerSource is the subset of peer-table access DiscoverPeers needs to
// respond to or learn from a request.
type PeerSource interface {
	OutboundPeers() map[string]PeerAddr
	OtherPeers() map[string]PeerAddr
	LearnPeer(id string, addr PeerAddr)
}

// RespondDiscoverPeers answers a DiscoverPeers request: every known peer
// address except the requester itself, grounded on DiscoverPeers.respond.
func RespondDiscoverPeers(peers PeerSource, requesterID string) (json.RawMessage, error) {
	result := map[string]PeerAddr{}

	for id, addr := range peers.OutboundPeers() {
		result[id] = addr
	}
	for id, addr := range peers.OtherPeers() {
		result[id] = addr
	}
	delete(result, requesterID)

	return json.Marshal(result)
}

// ReceiveDiscoverPeers records every peer address a DiscoverPeers response
// reported, grounded on DiscoverPeers.receive.
func ReceiveDiscoverPeers(peers PeerSource, response json.RawMessage) error {
	var learned map[string]PeerAddr
	if err := json.Unmarshal(response, &learned); err != nil {
		return err
	}

	for id, addr := range learned {
		peers.LearnPeer(id, addr)
	}
	return nil
}
