package topology

import (
	"fmt"
	"strings"
)

// Defaults for a generated topology.
const (
	DefaultInstances        = 3
	DefaultAdminPort        = 9900
	DefaultServerPort       = 12300
	DefaultThreadsPerSocket = 48

	maxPort = 65535
)

// BindMode selects how bring-up pins each instance to the host.
//
// Exactly one mode applies to a topology. [BindAuto] resolves to [BindNodes]
// when pmem paths are present and to [BindNone] otherwise.
type BindMode int

const (
	BindAuto BindMode = iota
	BindNone
	BindNodes
	BindCores
)

// ParseBindMode maps a name to a [BindMode]. The empty string means auto.
func ParseBindMode(name string) (BindMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return BindAuto, nil
	case "none":
		return BindNone, nil
	case "nodes":
		return BindNodes, nil
	case "cores":
		return BindCores, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownBindMode, name)
	}
}

func (m BindMode) String() string {
	switch m {
	case BindNone:
		return "none"
	case BindNodes:
		return "nodes"
	case BindCores:
		return "cores"
	default:
		return "auto"
	}
}

// Topology is the placement of N instances on one host.
type Topology struct {
	Instances      int
	AdminPortBase  int
	ServerPortBase int

	// PmemPaths are datapool mount points. Instance i uses PmemPaths[i mod len].
	// Fewer paths than instances is allowed and co-locates instances per device.
	PmemPaths []string

	Bind BindMode

	// ThreadsPerSocket is the offset from a physical thread to its
	// hyperthread sibling, used by [BindCores].
	ThreadsPerSocket int
}

// Default returns a topology with the default instance count and ports.
func Default() Topology {
	return Topology{
		Instances:        DefaultInstances,
		AdminPortBase:    DefaultAdminPort,
		ServerPortBase:   DefaultServerPort,
		Bind:             BindAuto,
		ThreadsPerSocket: DefaultThreadsPerSocket,
	}
}

// AdminPort returns the admin port of instance i.
func (t Topology) AdminPort(i int) int {
	return t.AdminPortBase + i
}

// ServerPort returns the data port of instance i.
func (t Topology) ServerPort(i int) int {
	return t.ServerPortBase + i
}

// HasPmem reports whether datapools are configured.
func (t Topology) HasPmem() bool {
	return len(t.PmemPaths) > 0
}

// PmemPath returns the datapool path of instance i, or "" without pmem.
func (t Topology) PmemPath(i int) string {
	if !t.HasPmem() {
		return ""
	}

	return t.PmemPaths[i%len(t.PmemPaths)]
}

// NumaNode returns the NUMA node instance i is bound to in nodes mode.
// The k-th pmem path is assumed to live on node k.
func (t Topology) NumaNode(i int) int {
	if !t.HasPmem() {
		return 0
	}

	return i % len(t.PmemPaths)
}

// EffectiveBind resolves [BindAuto] against the configured pmem paths.
func (t Topology) EffectiveBind() BindMode {
	if t.Bind != BindAuto {
		return t.Bind
	}

	if t.HasPmem() {
		return BindNodes
	}

	return BindNone
}

// Validate checks instance count, port ranges and binding requirements.
func (t Topology) Validate() error {
	if t.Instances < 1 {
		return fmt.Errorf("%w (got %d)", ErrNoInstances, t.Instances)
	}

	for _, r := range []struct {
		name string
		base int
	}{
		{"admin", t.AdminPortBase},
		{"server", t.ServerPortBase},
	} {
		if r.base < 1 || r.base+t.Instances-1 > maxPort {
			return fmt.Errorf("%w: %s ports %d-%d", ErrPortRange, r.name, r.base, r.base+t.Instances-1)
		}
	}

	if rangesOverlap(t.AdminPortBase, t.ServerPortBase, t.Instances) {
		return fmt.Errorf("%w: admin %d-%d, server %d-%d", ErrPortCollision,
			t.AdminPortBase, t.AdminPort(t.Instances-1),
			t.ServerPortBase, t.ServerPort(t.Instances-1))
	}

	for i, p := range t.PmemPaths {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w (index %d)", ErrEmptyPmemPath, i)
		}
	}

	switch t.EffectiveBind() {
	case BindNodes:
		if !t.HasPmem() {
			return ErrBindNodesWithoutPmem
		}
	case BindCores:
		if t.ThreadsPerSocket < 1 {
			return fmt.Errorf("%w (got %d)", ErrThreadsPerSocket, t.ThreadsPerSocket)
		}
	default:
	}

	return nil
}

func rangesOverlap(a, b, n int) bool {
	return a < b+n && b < a+n
}
