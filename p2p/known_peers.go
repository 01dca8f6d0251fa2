package p2p

import (
	"encoding/json"
	"os"

	"github.com/tcoin-network/tcoind/request"
)

// peerEntry marshals a request.PeerAddr as a [host, port] pair rather than
// an object, matching the known-peers file layout described in SPEC_FULL.md
// §7's supplemented known-peers persistence feature.
type peerEntry request.PeerAddr

func (p peerEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{p.Host, p.Port})
}

func (p *peerEntry) UnmarshalJSON(data []byte) error {
	var tuple [2]interface{}
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	host, _ := tuple[0].(string)
	port, _ := tuple[1].(float64)
	p.Host = host
	p.Port = int(port)
	return nil
}

// LoadKnownPeers reads a node-id -> (host, port) table from path, returning
// an empty table (not an error) if the file doesn't exist yet.
func LoadKnownPeers(path string) (map[string]request.PeerAddr, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]request.PeerAddr{}, nil
		}
		return nil, err
	}

	var raw map[string]peerEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	out := make(map[string]request.PeerAddr, len(raw))
	for id, entry := range raw {
		out[id] = request.PeerAddr(entry)
	}
	return out, nil
}

// SaveKnownPeers writes peers to path as JSON, overwriting any existing
// file.
func SaveKnownPeers(path string, peers map[string]request.PeerAddr) error {
	raw := make(map[string]peerEntry, len(peers))
	for id, addr := range peers {
		raw[id] = peerEntry(addr)
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
