package types

import (
	"fmt"
	"sort"
	"time"
)

// WorkloadState represents the lifecycle state of a workload
type WorkloadState string

const (
	// StateUnknown means no record exists for the workload
	StateUnknown WorkloadState = "unknown"

	// StateInstalling means a provisioning pipeline is in flight
	StateInstalling WorkloadState = "installing"

	// StateReady means the container was created and started
	StateReady WorkloadState = "ready"

	// StateFailed means provisioning or a lifecycle operation failed
	StateFailed WorkloadState = "failed"
)

// StateRecord is the durable per-workload tuple tracked by the state store
type StateRecord struct {
	VolumeID    string        `json:"volumeId"`
	State       WorkloadState `json:"state"`
	ContainerID string        `json:"containerId,omitempty"`
}

// PortBinding maps a container port to a host address
type PortBinding struct {
	HostIP   string `json:"hostIp,omitempty"`
	HostPort int    `json:"hostPort"`
}

// InstallScript is fetched into the volume during provisioning
type InstallScript struct {
	URI         string `json:"uri"`
	Destination string `json:"destination"`
}

// WorkloadSpec describes one managed container plus its bound volume.
// The ID doubles as the volume directory name and the container name prefix.
type WorkloadSpec struct {
	ID             string                `json:"id"`
	Image          string                `json:"image"`
	Command        []string              `json:"command,omitempty"`
	Env            []string              `json:"env,omitempty"` // KEY=VALUE, last write wins on merge
	ExposedPorts   []int                 `json:"exposedPorts,omitempty"`
	PortBindings   map[int][]PortBinding `json:"portBindings,omitempty"`
	MemoryLimitMB  int64                 `json:"memoryLimitMb,omitempty"`
	CPUCount       float64               `json:"cpuCount,omitempty"`
	InstallScripts []InstallScript       `json:"installScripts,omitempty"`
}

// Validate checks the fields a provisioning run cannot proceed without
func (s *WorkloadSpec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("workload id is required")
	}
	if s.Image == "" {
		return fmt.Errorf("image reference is required")
	}
	return nil
}

// PrimaryPort returns the host port of the lowest-numbered container port
// binding. ok is false when the spec declares no bindings.
func (s *WorkloadSpec) PrimaryPort() (int, bool) {
	if len(s.PortBindings) == 0 {
		return 0, false
	}
	ports := make([]int, 0, len(s.PortBindings))
	for p := range s.PortBindings {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	for _, p := range ports {
		if bindings := s.PortBindings[p]; len(bindings) > 0 {
			return bindings[0].HostPort, true
		}
	}
	return 0, false
}

// ContainerInfo is the effective configuration read back from the runtime
type ContainerInfo struct {
	ID           string
	Running      bool
	Image        string
	Command      []string
	Env          []string
	ExposedPorts []int
	PortBindings map[int][]PortBinding
	Labels       map[string]string
}

// StatsSnapshot is a point-in-time resource usage report for one container
type StatsSnapshot struct {
	ContainerID  string    `json:"containerId"`
	Timestamp    time.Time `json:"timestamp"`
	CPUUsageNano uint64    `json:"cpuUsageNano"`
	MemoryBytes  uint64    `json:"memoryBytes"`
	MemoryLimit  uint64    `json:"memoryLimit,omitempty"`
	DiskBytes    int64     `json:"diskBytes,omitempty"`
}

// MergeEnv merges KEY=VALUE lists left to right, later entries winning on
// duplicate keys. Order of first appearance is preserved.
func MergeEnv(lists ...[]string) []string {
	index := make(map[string]int)
	var merged []string
	for _, list := range lists {
		for _, entry := range list {
			key := entry
			for i := 0; i < len(entry); i++ {
				if entry[i] == '=' {
					key = entry[:i]
					break
				}
			}
			if pos, ok := index[key]; ok {
				merged[pos] = entry
				continue
			}
			index[key] = len(merged)
			merged = append(merged, entry)
		}
	}
	return merged
}

// EnvToMap parses a KEY=VALUE list back into a map, last write wins.
// Entries without '=' become keys with an empty value.
func EnvToMap(env []string) map[string]string {
	m := make(map[string]string, len(env))
	for _, entry := range env {
		key, value := entry, ""
		for i := 0; i < len(entry); i++ {
			if entry[i] == '=' {
				key, value = entry[:i], entry[i+1:]
				break
			}
		}
		m[key] = value
	}
	return m
}
