// Package htransport implements the libp2p-backed RPC transport: the
// concrete Transport the remote dispatcher (pkg/hdispatch) drives, and
// the stream handlers that turn incoming RPCs into calls to the
// dispatcher's ingress path. The cluster has fixed membership addressed
// by the host file (pkg/hnet), so there is no peer discovery; every
// node's identity is derived deterministically from its NodeId.
package htransport

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/hstor/hrun/pkg/hids"
)

// deterministicIdentity derives an Ed25519 keypair for node from a
// cluster-wide seed string, so every node in a closed-membership cluster
// can independently compute any other node's peer.ID from the host file
// alone — no discovery or shared peerstore file needed, since ed25519 key
// generation from a fixed 32-byte reader is itself deterministic.
func deterministicIdentity(seed string, node hids.NodeId) (crypto.PrivKey, crypto.PubKey, error) {
	sum := sha256.Sum256([]byte(fmt.Sprintf("hrun-cluster:%s:%d", seed, node)))
	priv, pub, err := crypto.GenerateEd25519Key(bytes.NewReader(sum[:]))
	if err != nil {
		return nil, nil, fmt.Errorf("htransport: derive identity for node %s: %w", node, err)
	}
	return priv, pub, nil
}

// peerID returns the deterministic peer.ID a node's identity resolves to.
func peerID(seed string, node hids.NodeId) (peer.ID, error) {
	_, pub, err := deterministicIdentity(seed, node)
	if err != nil {
		return "", err
	}
	return peer.IDFromPublicKey(pub)
}
