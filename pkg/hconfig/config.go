// Package hconfig implements the configuration loader: a structured YAML
// document for the server (work-orchestrator limits, queue-manager
// defaults, RPC settings, the lib bootstrap list) and a thin client
// config, both falling back to SERVER_CONF/CLIENT_CONF environment
// variables when no path is given.
package hconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the root document a runtime process loads at startup.
type ServerConfig struct {
	WorkOrchestrator WorkOrchestratorConfig `yaml:"work_orchestrator"`
	QueueManager     QueueManagerConfig     `yaml:"queue_manager"`
	RPC              RPCConfig              `yaml:"rpc"`
	BootstrapLibs    []string               `yaml:"bootstrap_libs"`
	LogLevel         string                 `yaml:"log_level"`
}

// WorkOrchestratorConfig covers the orchestrator's worker-pool limits.
type WorkOrchestratorConfig struct {
	MaxDedicatedWorkers   int  `yaml:"max_dedicated_workers"`
	MaxOverlappingWorkers int  `yaml:"max_overlapping_workers"`
	OverlapPerCore        int  `yaml:"overlap_per_core"`
	BindCPUs              bool `yaml:"bind_cpus"`
}

// QueueManagerConfig covers the queue manager's defaults.
type QueueManagerConfig struct {
	DefaultDepth  int    `yaml:"default_depth"`
	MaxLanes      int    `yaml:"max_lanes"`
	MaxQueues     int    `yaml:"max_queues"`
	AllocatorName string `yaml:"allocator_name"`
	RegionName    string `yaml:"region_name"`
	RegionSize    int    `yaml:"region_size_bytes"`
}

// RPCConfig covers the transport's host-file path, protocol/domain/port,
// and thread count.
type RPCConfig struct {
	HostFile    string `yaml:"host_file"`
	Protocol    string `yaml:"protocol"`
	Domain      string `yaml:"domain"`
	Port        int    `yaml:"port"`
	ThreadCount int    `yaml:"thread_count"`
	Seed        string `yaml:"seed"`
}

// ClientConfig is the root document a client process loads. Beyond the
// thread-model hint, it carries what a standalone client binary needs to
// reach a runtime process over the remote dispatcher: the cluster host
// file, the same cluster-wide identity seed the runtime nodes use, the
// port the client's own libp2p host listens on, and which node to submit
// to.
type ClientConfig struct {
	RegionName  string `yaml:"region_name"`
	ThreadModel string `yaml:"thread_model"` // e.g. "none", "pthread", "argobots"
	LogLevel    string `yaml:"log_level"`
	HostFile    string `yaml:"host_file"`
	Seed        string `yaml:"seed"`
	Port        int    `yaml:"port"`
	ServerNode  int    `yaml:"server_node"`
	DebugAddr   string `yaml:"debug_addr"` // server's admin debug HTTP base URL, for task-state id discovery
}

// DefaultServerConfig returns the baseline a freshly-initialized cluster
// node runs with if no document overrides it.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		WorkOrchestrator: WorkOrchestratorConfig{
			MaxDedicatedWorkers:   4,
			MaxOverlappingWorkers: 0,
			OverlapPerCore:        0,
			BindCPUs:              false,
		},
		QueueManager: QueueManagerConfig{
			DefaultDepth:  1024,
			MaxLanes:      16,
			MaxQueues:     256,
			AllocatorName: "bump",
			RegionName:    "hrun_shm",
			RegionSize:    64 << 20,
		},
		RPC: RPCConfig{
			Protocol:    "libp2p",
			Domain:      "tcp",
			Port:        6367,
			ThreadCount: 4,
			Seed:        "hrun-dev-cluster",
		},
		BootstrapLibs: []string{"small_message"},
		LogLevel:      "info",
	}
}

// DefaultClientConfig returns the baseline a client attaches with if no
// document overrides it.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		RegionName:  "hrun_shm",
		ThreadModel: "none",
		LogLevel:    "info",
		Seed:        "hrun-dev-cluster",
		Port:        6368,
		ServerNode:  1,
		DebugAddr:   "http://127.0.0.1:6369",
	}
}

// LoadServer reads a YAML ServerConfig from path. If path is empty, it
// falls back to the SERVER_CONF environment variable; if
// neither names a file, the defaults are returned unmodified.
func LoadServer(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	resolved := resolvePath(path, "SERVER_CONF")
	if resolved == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("hconfig: read server config %s: %w", resolved, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("hconfig: parse server config %s: %w", resolved, err)
	}
	return cfg, nil
}

// LoadClient reads a YAML ClientConfig from path, falling back to
// CLIENT_CONF.
func LoadClient(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()
	resolved := resolvePath(path, "CLIENT_CONF")
	if resolved == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("hconfig: read client config %s: %w", resolved, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("hconfig: parse client config %s: %w", resolved, err)
	}
	return cfg, nil
}

func resolvePath(path, envVar string) string {
	if path != "" {
		return path
	}
	return os.Getenv(envVar)
}

