// Command hrun-client is the client process: it attaches to a runtime's shared-memory region for
// buffer sharing, resolves the server's small_message task-state id
// through the admin debug HTTP surface (pkg/hadmin.DebugServer), and
// submits an Io round trip purely over the remote dispatcher's egress
// path, without running any workers or queues of its own. A second
// process attaching to the server's region cannot simply see the
// server's live queues — task control blocks are process-local Go
// values — so task submission here goes through the same libp2p
// transport a peer node would use, not through hruntime's local Submit.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hstor/hrun/pkg/hconfig"
	"github.com/hstor/hrun/pkg/hdispatch"
	"github.com/hstor/hrun/pkg/hids"
	"github.com/hstor/hrun/pkg/hlog"
	"github.com/hstor/hrun/pkg/hnet"
	"github.com/hstor/hrun/pkg/hregistry"
	"github.com/hstor/hrun/pkg/hruntime"
	"github.com/hstor/hrun/pkg/htask"
	"github.com/hstor/hrun/pkg/htransport"
	"github.com/hstor/hrun/pkg/states/smallmessage"
)

func main() {
	configPath := flag.String("config", "", "path to the client YAML config (falls back to $CLIENT_CONF)")
	clientId := flag.String("client-id", "hrun-client", "identifier this client derives its libp2p identity from")
	timeout := flag.Duration("timeout", 10*time.Second, "RPC deadline for the round trip")
	flag.Parse()

	cfg, err := hconfig.LoadClient(*configPath)
	if err != nil {
		log.Fatalf("hrun-client: load config: %v", err)
	}

	level, err := hlog.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("hrun-client: parse log_level: %v", err)
	}
	logger := hlog.New(level)
	defer logger.Sync()

	hosts, err := hnet.Load(cfg.HostFile, logger)
	if err != nil {
		logger.Fatalw("load host file", "err", err)
	}
	defer hosts.Close()

	serverNode := hids.NodeId(cfg.ServerNode)
	if _, ok := hosts.HostOf(serverNode); !ok {
		logger.Fatalw("configured server_node not present in host file", "server_node", serverNode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	stateId, err := resolveStateId(ctx, cfg.DebugAddr, "small_message")
	if err != nil {
		logger.Fatalw("resolve small_message task state id", "err", err)
	}

	// A client has no line of its own in the host file; its NodeId only
	// needs to be stable enough to derive one libp2p identity per
	// client-id, never to collide with a real cluster member on the wire.
	local := clientNodeId(*clientId)

	transport, err := htransport.New(local, hosts, cfg.Seed, cfg.Port, logger)
	if err != nil {
		logger.Fatalw("create transport", "err", err)
	}
	defer transport.Close()

	// Registry/runtime only need to satisfy hdispatch.New's signature and
	// back the optional shared-buffer attach below; Egress never calls
	// Ingress or ResolveDomain, so neither is consulted here.
	registry := hregistry.New(1)
	dispatcher := hdispatch.New(local, hosts.NumNodes(), registry, nil, transport, logger.With("component", "hdispatch"))

	if rt, err := hruntime.Attach(local, cfg.RegionName, registry); err != nil {
		logger.Warnw("attach to shared region failed, continuing without buffer sharing", "err", err)
	} else {
		defer rt.Close()
	}

	node := hids.NewRootTaskNode(hids.UniqueId{NodeId: local, Unique: 1})
	task := smallmessage.NewIoTask(node, hids.OfNode(serverNode), stateId)

	// The worker's own dispatch loop normally sets these before handing a
	// task to Egress; a client originates the task itself
	// so it sets them directly.
	task.Hdr().SetFlag(htask.DisableRun | htask.Unordered)

	state := smallmessage.New("small_message")
	if err := dispatcher.Egress(ctx, task, state, []hids.NodeId{serverNode}); err != nil {
		logger.Fatalw("push Io task", "err", err)
	}
	logger.Infow("round trip complete", "server_node", serverNode, "ret", task.Ret)
}

// clientNodeId derives a synthetic NodeId for this client's libp2p
// identity from a human-chosen id string, high enough that it will never
// collide with a 1-based host-file index in any realistically sized
// cluster.
func clientNodeId(id string) hids.NodeId {
	sum := sha256.Sum256([]byte(fmt.Sprintf("hrun-client:%s", id)))
	return hids.NodeId(100000 + binary.BigEndian.Uint32(sum[:4])%100000)
}

// debugStateSummary mirrors hregistry.StateSummary's JSON shape without
// importing hregistry just for a struct tag.
type debugStateSummary struct {
	Id   hids.TaskStateId
	Name string
	Lib  string
}

// resolveStateId queries the server's admin debug HTTP surface
// (pkg/hadmin.DebugServer) for the task-state id currently registered
// under stateName. debugAddr is a full base URL, e.g. "http://10.0.0.2:6369".
func resolveStateId(ctx context.Context, debugAddr, stateName string) (hids.TaskStateId, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, debugAddr+"/debug/states", nil)
	if err != nil {
		return hids.NullUniqueId, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return hids.NullUniqueId, fmt.Errorf("hrun-client: query debug surface: %w", err)
	}
	defer resp.Body.Close()

	var states []debugStateSummary
	if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
		return hids.NullUniqueId, fmt.Errorf("hrun-client: decode debug surface response: %w", err)
	}
	for _, s := range states {
		if s.Name == stateName {
			return s.Id, nil
		}
	}
	return hids.NullUniqueId, fmt.Errorf("hrun-client: no task state named %q on server", stateName)
}
