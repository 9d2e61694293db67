package htransport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"

	"github.com/hstor/hrun/pkg/hdispatch"
	"github.com/hstor/hrun/pkg/hids"
	"github.com/hstor/hrun/pkg/hlog"
	"github.com/hstor/hrun/pkg/hnet"
	"github.com/hstor/hrun/pkg/htask"
)

const (
	// protoPushSmall is the wire verb for a call carrying only serialized
	// scalar parameters.
	protoPushSmall = protocol.ID("/hrun/push-small/1.0.0")
	// protoPushBulk additionally carries one bulk data transfer.
	protoPushBulk = protocol.ID("/hrun/push-bulk/1.0.0")
)

// Transport is the libp2p-backed implementation of hdispatch.Transport: one
// host per node, addressed by the cluster host file, with two protocol IDs
// standing in for the RpcPushSmall/RpcPushBulk verbs the wire contract names.
type Transport struct {
	Host  host.Host
	local hids.NodeId
	hosts *hnet.HostFile
	seed  string
	port  int
	log   *hlog.Logger

	dmu        sync.RWMutex
	dispatcher *hdispatch.Dispatcher
}

// New creates a libp2p host listening on port and derives this node's
// identity deterministically from seed (a cluster-wide shared secret every
// node configures identically, per the ServerConfig).
func New(local hids.NodeId, hosts *hnet.HostFile, seed string, port int, log *hlog.Logger) (*Transport, error) {
	priv, _, err := deterministicIdentity(seed, local)
	if err != nil {
		return nil, err
	}
	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", port)),
		libp2p.Ping(false),
	)
	if err != nil {
		return nil, fmt.Errorf("htransport: create libp2p host: %w", err)
	}
	return &Transport{Host: h, local: local, hosts: hosts, seed: seed, port: port, log: log}, nil
}

// Bind installs d as the handler for incoming RPCs and registers this
// transport's stream handlers. A transport with no dispatcher bound can
// still be used purely as an egress client.
func (t *Transport) Bind(d *hdispatch.Dispatcher) {
	t.dmu.Lock()
	t.dispatcher = d
	t.dmu.Unlock()
	t.Host.SetStreamHandler(protoPushSmall, t.handleSmall)
	t.Host.SetStreamHandler(protoPushBulk, t.handleBulk)
}

// Close shuts down the libp2p host.
func (t *Transport) Close() error { return t.Host.Close() }

// addrInfo resolves node to a dialable peer address: its hostname from
// the cluster host file, the RPC port, and its deterministically-derived
// peer.ID. A host file entry may carry an explicit host:port, overriding
// the cluster-wide RPC port — needed when several nodes share one
// machine.
func (t *Transport) addrInfo(node hids.NodeId) (peer.AddrInfo, error) {
	hostname, ok := t.hosts.HostOf(node)
	if !ok {
		return peer.AddrInfo{}, fmt.Errorf("htransport: node %s not present in host file", node)
	}
	port := t.port
	if h, p, err := net.SplitHostPort(hostname); err == nil {
		parsed, err := strconv.Atoi(p)
		if err != nil {
			return peer.AddrInfo{}, fmt.Errorf("htransport: bad port in host file entry %q: %w", hostname, err)
		}
		hostname, port = h, parsed
	}
	pid, err := peerID(t.seed, node)
	if err != nil {
		return peer.AddrInfo{}, err
	}
	maddr, err := multiaddr.NewMultiaddr(fmt.Sprintf("/%s/tcp/%d/p2p/%s", addrComponent(hostname), port, pid))
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("htransport: build multiaddr for node %s: %w", node, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("htransport: parse addr info for node %s: %w", node, err)
	}
	return *info, nil
}

// addrComponent returns the multiaddr protocol/value pair for a host file
// entry: a dotted IPv4 literal dials directly, anything else is treated as
// a DNS name.
func addrComponent(hostname string) string {
	if ip := net.ParseIP(hostname); ip != nil && ip.To4() != nil {
		return fmt.Sprintf("ip4/%s", hostname)
	}
	return fmt.Sprintf("dns4/%s", hostname)
}

func (t *Transport) openStream(ctx context.Context, node hids.NodeId, proto protocol.ID) (network.Stream, error) {
	info, err := t.addrInfo(node)
	if err != nil {
		return nil, err
	}
	if err := t.Host.Connect(ctx, info); err != nil {
		return nil, fmt.Errorf("htransport: connect to node %s: %w", node, err)
	}
	s, err := t.Host.NewStream(ctx, info.ID, proto)
	if err != nil {
		return nil, fmt.Errorf("htransport: open stream to node %s: %w", node, err)
	}
	return s, nil
}

// pushSmallWire is the request frame for protoPushSmall, gob-encoded
// directly onto the stream (each Encode/Decode call is self-delimiting, so
// no manual length-prefixing is needed for a one-shot request/response
// stream).
type pushSmallWire struct {
	State  hids.TaskStateId
	Method int
	Params []byte
}

type pushBulkWire struct {
	State  hids.TaskStateId
	Method int
	Params []byte
	Bulk   []byte
	Dir    htask.TransferDir
}

type pushReplyWire struct {
	Params []byte
	Bulk   []byte
}

// PushSmall implements hdispatch.Transport.
func (t *Transport) PushSmall(ctx context.Context, node hids.NodeId, state hids.TaskStateId, method int, params []byte) ([]byte, error) {
	s, err := t.openStream(ctx, node, protoPushSmall)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if err := writeGob(s, pushSmallWire{State: state, Method: method, Params: params}); err != nil {
		return nil, fmt.Errorf("htransport: send push-small to node %s: %w", node, err)
	}
	var reply pushReplyWire
	if err := readGob(s, &reply); err != nil {
		return nil, fmt.Errorf("htransport: read push-small reply from node %s: %w", node, err)
	}
	return reply.Params, nil
}

// PushBulk implements hdispatch.Transport.
func (t *Transport) PushBulk(ctx context.Context, node hids.NodeId, state hids.TaskStateId, method int, params, bulk []byte, dir htask.TransferDir) ([]byte, []byte, error) {
	s, err := t.openStream(ctx, node, protoPushBulk)
	if err != nil {
		return nil, nil, err
	}
	defer s.Close()

	if err := writeGob(s, pushBulkWire{State: state, Method: method, Params: params, Bulk: bulk, Dir: dir}); err != nil {
		return nil, nil, fmt.Errorf("htransport: send push-bulk to node %s: %w", node, err)
	}
	var reply pushReplyWire
	if err := readGob(s, &reply); err != nil {
		return nil, nil, fmt.Errorf("htransport: read push-bulk reply from node %s: %w", node, err)
	}
	return reply.Params, reply.Bulk, nil
}

func (t *Transport) handleSmall(s network.Stream) {
	defer s.Close()
	var req pushSmallWire
	if err := readGob(s, &req); err != nil {
		t.log.Errorw("htransport: decode push-small request", "err", err)
		return
	}
	t.dmu.RLock()
	d := t.dispatcher
	t.dmu.RUnlock()
	if d == nil {
		t.log.Errorw("htransport: push-small received with no dispatcher bound")
		return
	}
	replyParams, _, err := d.Ingress(context.Background(), req.State, req.Method, req.Params, nil, 0)
	if err != nil {
		t.log.Errorw("htransport: ingress failed for push-small", "err", err)
		return
	}
	if err := writeGob(s, pushReplyWire{Params: replyParams}); err != nil {
		t.log.Errorw("htransport: write push-small reply", "err", err)
	}
}

func (t *Transport) handleBulk(s network.Stream) {
	defer s.Close()
	var req pushBulkWire
	if err := readGob(s, &req); err != nil {
		t.log.Errorw("htransport: decode push-bulk request", "err", err)
		return
	}
	t.dmu.RLock()
	d := t.dispatcher
	t.dmu.RUnlock()
	if d == nil {
		t.log.Errorw("htransport: push-bulk received with no dispatcher bound")
		return
	}
	replyParams, replyBulk, err := d.Ingress(context.Background(), req.State, req.Method, req.Params, req.Bulk, req.Dir)
	if err != nil {
		t.log.Errorw("htransport: ingress failed for push-bulk", "err", err)
		return
	}
	if err := writeGob(s, pushReplyWire{Params: replyParams, Bulk: replyBulk}); err != nil {
		t.log.Errorw("htransport: write push-bulk reply", "err", err)
	}
}
