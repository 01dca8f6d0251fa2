package p2p

import (
	"path/filepath"
	"testing"

	"github.com/tcoin-network/tcoind/request"
)

func TestKnownPeersRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_peers.json")

	want := map[string]request.PeerAddr{
		"Tnode-a": {Host: "127.0.0.1", Port: 8901},
		"Tnode-b": {Host: "example.org", Port: 9001},
	}

	if err := SaveKnownPeers(path, want); err != nil {
		t.Fatalf("SaveKnownPeers: %v", err)
	}

	got, err := LoadKnownPeers(path)
	if err != nil {
		t.Fatalf("LoadKnownPeers: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("got %d peers, want %d", len(got), len(want))
	}
	for id, addr := range want {
		if got[id] != addr {
			t.Fatalf("peer %s = %+v, want %+v", id, got[id], addr)
		}
	}
}

func TestLoadKnownPeersMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")

	got, err := LoadKnownPeers(path)
	if err != nil {
		t.Fatalf("LoadKnownPeers: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
}
