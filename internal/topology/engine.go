// Package topology describes how cache server instances are laid out on a
// host and how their memory is sized.
//
// Everything here is pure: the types are computed from inputs and carry no
// filesystem state. Rendering and writing live in servercfg, runscript and
// generate.
package topology

import (
	"fmt"
	"strings"
)

// Engine selects the storage engine of the cache server binary.
type Engine int

const (
	// Twemcache is the slab-based engine.
	Twemcache Engine = iota
	// Slimcache is the cuckoo-hash engine.
	Slimcache
)

// DefaultEngine is used when no engine is configured.
const DefaultEngine = Twemcache

// ParseEngine maps an engine name to an [Engine]. Names are case-insensitive.
func ParseEngine(name string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "twemcache":
		return Twemcache, nil
	case "slimcache":
		return Slimcache, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
}

func (e Engine) String() string {
	if e == Slimcache {
		return "slimcache"
	}

	return "twemcache"
}

// DatapoolKey is the config key naming the persistent memory datapool.
func (e Engine) DatapoolKey() string {
	if e == Slimcache {
		return "cuckoo_datapool"
	}

	return "slab_datapool"
}

// WarmMarker is the debug log line an instance writes once prefill is done.
func (e Engine) WarmMarker() string {
	if e == Slimcache {
		return "prefilling cuckoo"
	}

	return "prefilling slab"
}

// ConfigName returns the config file name for the instance on serverPort.
func (e Engine) ConfigName(serverPort int) string {
	return fmt.Sprintf("%s-%d.config", e, serverPort)
}

// LogName returns the debug log file name for the instance on serverPort.
func (e Engine) LogName(serverPort int) string {
	return fmt.Sprintf("%s-%d.log", e, serverPort)
}
