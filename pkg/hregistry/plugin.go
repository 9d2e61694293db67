package hregistry

import (
	"fmt"
	"net/rpc"
	"os/exec"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
)

// Handshake is the magic-cookie pair a dynamically-loaded task library's
// plugin binary must present before the registry will talk to it, the
// same pattern the wider plugin ecosystem (hashicorp tooling) uses to
// refuse accidentally executing an unrelated binary as a plugin.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "HRUN_TASK_LIB",
	MagicCookieValue: "hrun",
}

// TaskLib is the capability an out-of-process task library exposes over
// RPC: construct/destruct the state, and invoke a method against
// already-serialized scalar parameters and buffer transfers. Keeping the wire surface to byte slices means the
// plugin boundary doesn't need to know this runtime's concrete Task types,
// only the same (params, transfers) shape the remote dispatcher already
// uses for cross-node calls.
type TaskLib interface {
	Name() string
	Construct(stateName string) error
	Destruct() error
	Invoke(method int, params []byte, transfers [][]byte) (result []byte, outTransfers [][]byte, err error)
}

type invokeArgs struct {
	Method    int
	Params    []byte
	Transfers [][]byte
}

type invokeReply struct {
	Result    []byte
	Transfers [][]byte
}

// taskLibRPC is the client-side stub the registry holds after Dispense;
// every call is a blocking net/rpc round trip to the plugin subprocess.
type taskLibRPC struct {
	client *rpc.Client
	name   string
}

func (c *taskLibRPC) Name() string { return c.name }

func (c *taskLibRPC) Construct(stateName string) error {
	return c.client.Call("Plugin.Construct", stateName, &struct{}{})
}

func (c *taskLibRPC) Destruct() error {
	return c.client.Call("Plugin.Destruct", struct{}{}, &struct{}{})
}

func (c *taskLibRPC) Invoke(method int, params []byte, transfers [][]byte) ([]byte, [][]byte, error) {
	var reply invokeReply
	args := invokeArgs{Method: method, Params: params, Transfers: transfers}
	if err := c.client.Call("Plugin.Invoke", args, &reply); err != nil {
		return nil, nil, err
	}
	return reply.Result, reply.Transfers, nil
}

// taskLibRPCServer wraps a concrete TaskLib so it can be exposed over
// net/rpc inside the plugin subprocess.
type taskLibRPCServer struct {
	Impl TaskLib
}

func (s *taskLibRPCServer) Construct(stateName string, _ *struct{}) error {
	return s.Impl.Construct(stateName)
}

func (s *taskLibRPCServer) Destruct(_ struct{}, _ *struct{}) error {
	return s.Impl.Destruct()
}

func (s *taskLibRPCServer) Invoke(args invokeArgs, reply *invokeReply) error {
	result, transfers, err := s.Impl.Invoke(args.Method, args.Params, args.Transfers)
	if err != nil {
		return err
	}
	reply.Result = result
	reply.Transfers = transfers
	return nil
}

// TaskLibPlugin is the plugin.Plugin implementation both sides of the
// handshake register under the name "tasklib". The subprocess side sets
// Impl; the registry side leaves it nil and only calls Client.
type TaskLibPlugin struct {
	Impl TaskLib
}

func (p *TaskLibPlugin) Server(*plugin.MuxBroker) (any, error) {
	return &taskLibRPCServer{Impl: p.Impl}, nil
}

func (TaskLibPlugin) Client(_ *plugin.MuxBroker, c *rpc.Client) (any, error) {
	return &taskLibRPC{client: c}, nil
}

var pluginMap = map[string]plugin.Plugin{
	"tasklib": &TaskLibPlugin{},
}

// loadPluginLib launches binaryPath as a subprocess task library and
// dispenses its TaskLib stub. The caller owns the returned *plugin.Client
// and must call Kill on it when the library is destroyed.
func loadPluginLib(name, binaryPath string, logger hclog.Logger) (*plugin.Client, TaskLib, error) {
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          pluginMap,
		Cmd:              exec.Command(binaryPath),
		Logger:           logger,
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
	})
	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("hregistry: dial plugin %s: %w", binaryPath, err)
	}
	raw, err := rpcClient.Dispense("tasklib")
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("hregistry: dispense plugin %s: %w", binaryPath, err)
	}
	lib, ok := raw.(TaskLib)
	if !ok {
		client.Kill()
		return nil, nil, fmt.Errorf("hregistry: plugin %s did not expose a TaskLib", binaryPath)
	}
	if stub, ok := lib.(*taskLibRPC); ok {
		stub.name = name
	}
	return client, lib, nil
}
