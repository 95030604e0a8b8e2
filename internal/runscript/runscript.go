// Package runscript renders the bring-up and warm-up shell scripts.
package runscript

import (
	"bytes"
	"fmt"
	"path"
	"time"

	"github.com/alessio/shellescape"

	"github.com/cachekit/ck/internal/servercfg"
	"github.com/cachekit/ck/internal/topology"
)

// Script names at the output root.
const (
	BringUpName = "bring-up.sh"
	WarmUpName  = "warm-up.sh"
)

// PollInterval is how often warm-up.sh re-checks the instance logs.
const PollInterval = 10 * time.Second

const shebang = "#!/bin/sh\n"

// Params are the inputs shared by both scripts.
type Params struct {
	Binary   string
	Engine   topology.Engine
	Topology topology.Topology
}

// ConfigPath returns the config path of instance i, relative to the output root.
func (p Params) ConfigPath(i int) string {
	return path.Join(servercfg.ConfigDir, p.Engine.ConfigName(p.Topology.ServerPort(i)))
}

// LogPath returns the debug log path of instance i, relative to the output root.
func (p Params) LogPath(i int) string {
	return path.Join(servercfg.LogDir, p.Engine.LogName(p.Topology.ServerPort(i)))
}

// LogPaths returns the debug log paths of all instances.
func (p Params) LogPaths() []string {
	logs := make([]string, p.Topology.Instances)
	for i := range logs {
		logs[i] = p.LogPath(i)
	}

	return logs
}

// LaunchLine returns the command that starts instance i, without newline.
// The binary and config path are shell-quoted when they contain characters
// the shell would split or expand.
func (p Params) LaunchLine(i int) string {
	return bindPrefix(p.Topology, i) + shellescape.Quote(p.Binary) + " " + shellescape.Quote(p.ConfigPath(i))
}

func bindPrefix(topo topology.Topology, i int) string {
	switch topo.EffectiveBind() {
	case topology.BindNodes:
		node := topo.NumaNode(i)

		return fmt.Sprintf("sudo numactl --cpunodebind=%d --preferred=%d ", node, node)
	case topology.BindCores:
		return fmt.Sprintf("sudo numactl --physcpubind=%d,%d ", i, i+topo.ThreadsPerSocket)
	default:
		return ""
	}
}

// BringUp renders bring-up.sh: one launch line per instance.
func BringUp(p Params) []byte {
	var buf bytes.Buffer

	buf.WriteString(shebang)

	for i := range p.Topology.Instances {
		buf.WriteString(p.LaunchLine(i))
		buf.WriteByte('\n')
	}

	return buf.Bytes()
}

// WarmUp renders warm-up.sh. It runs bring-up.sh, then polls the instance
// logs until every instance has logged the engine's prefill marker. The loop
// has no timeout; the operator stops it.
func WarmUp(p Params) []byte {
	n := p.Topology.Instances

	var buf bytes.Buffer

	buf.WriteString(shebang)
	fmt.Fprintf(&buf, "\n./%s\n\n", BringUpName)
	buf.WriteString("nready=0\n")
	fmt.Fprintf(&buf, "while [ $nready -lt %d ]\n", n)
	buf.WriteString("do\n")
	fmt.Fprintf(&buf, "    nready=$(grep -l %s %s 2>/dev/null | wc -l)\n",
		shellescape.Quote(p.Engine.WarmMarker()), shellescape.QuoteCommand(p.LogPaths()))
	fmt.Fprintf(&buf, "    echo \"$(date): $nready out of %d servers are warmed up\"\n", n)
	fmt.Fprintf(&buf, "    if [ $nready -lt %d ]; then\n", n)
	fmt.Fprintf(&buf, "        sleep %d\n", int(PollInterval/time.Second))
	buf.WriteString("    fi\n")
	buf.WriteString("done\n")

	return buf.Bytes()
}
