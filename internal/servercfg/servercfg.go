// Package servercfg builds, renders and reads cache server config files.
//
// A config file is a flat list of "key: value" lines. The model is an ordered
// list of sections so the rendered text is deterministic and grouped by
// concern. Building is pure; nothing in this package touches the filesystem.
package servercfg

import (
	"bytes"
	"path"
	"strconv"

	"github.com/cachekit/ck/internal/topology"
)

// Directories, relative to the output root, used inside generated configs.
const (
	ConfigDir = "config"
	LogDir    = "log"
)

// Fixed settings of every generated instance.
const (
	slabSize      = 1048756
	statsInterval = 10000
	klogMax       = 1073741824
	debugLogNBuf  = 1048576
)

// Entry is one "key: value" line.
type Entry struct {
	Key   string
	Value string
}

// Section is a group of entries rendered without blank lines in between.
type Section []Entry

// File is the model of one instance config.
type File struct {
	// Name is the file name, e.g. "twemcache-12300.config".
	Name     string
	Sections []Section
}

// Path returns the file path relative to the output root.
func (f File) Path() string {
	return path.Join(ConfigDir, f.Name)
}

// Lookup returns the value of key, searching sections in order.
func (f File) Lookup(key string) (string, bool) {
	for _, s := range f.Sections {
		for _, e := range s {
			if e.Key == key {
				return e.Value, true
			}
		}
	}

	return "", false
}

// Build returns the config of instance i.
//
// The generic sections depend only on the ports and shared sizing, so they
// are identical across engines; the engine section and the datapool line are
// the only engine-dependent parts.
func Build(engine topology.Engine, topo topology.Topology, d topology.Derived, i int) File {
	serverPort := topo.ServerPort(i)
	base := engine.String() + "-" + strconv.Itoa(serverPort)

	f := File{Name: engine.ConfigName(serverPort)}
	f.Sections = append(f.Sections, genericSections(topo.AdminPort(i), serverPort, base, d)...)
	f.Sections = append(f.Sections, engineSection(engine, base, d))

	if topo.HasPmem() {
		f.Sections = append(f.Sections, Section{{engine.DatapoolKey(), topo.PmemPath(i)}})
	}

	return f
}

func genericSections(adminPort, serverPort int, base string, d topology.Derived) []Section {
	logBase := path.Join(LogDir, base)

	return []Section{
		{
			{"daemonize", "yes"},
			{"admin_port", strconv.Itoa(adminPort)},
			{"server_port", strconv.Itoa(serverPort)},
		},
		{{"admin_tw_cap", "2000"}},
		{{"buf_init_size", "4096"}},
		{{"buf_sock_poolsize", "16384"}},
		{
			{"debug_log_level", "5"},
			{"debug_log_file", logBase + ".log"},
			{"debug_log_nbuf", strconv.Itoa(debugLogNBuf)},
		},
		{
			{"klog_file", logBase + ".cmd"},
			{"klog_backup", logBase + ".cmd.old"},
			{"klog_sample", "100"},
			{"klog_max", strconv.Itoa(klogMax)},
		},
		{
			{"prefill", "yes"},
			{"prefill_ksize", strconv.Itoa(topology.KeySize)},
			{"prefill_vsize", itoa64(d.ValueSize)},
			{"prefill_nkey", itoa64(d.NKey)},
		},
		{
			{"request_poolsize", "16384"},
			{"response_poolsize", "32768"},
		},
		{{"time_type", "2"}},
	}
}

func engineSection(engine topology.Engine, base string, d topology.Derived) Section {
	if engine == topology.Slimcache {
		return Section{
			{"cuckoo_item_size", itoa64(d.ItemSize)},
			{"cuckoo_nitem", itoa64(d.NKey)},
		}
	}

	return Section{
		{"slab_evict_opt", "1"},
		{"slab_prealloc", "yes"},
		{"slab_hash_power", strconv.Itoa(d.HashPower)},
		{"slab_mem", itoa64(d.SlabMem)},
		{"slab_size", strconv.Itoa(slabSize)},
		{"slab_datapool_prefault", "yes"},
		{"stats_intvl", strconv.Itoa(statsInterval)},
		{"stats_log_file", path.Join(LogDir, base+".stats")},
	}
}

// Render serializes f as "key: value" lines with a blank line between
// sections.
func Render(f File) []byte {
	var buf bytes.Buffer

	for i, s := range f.Sections {
		if i > 0 {
			buf.WriteByte('\n')
		}

		for _, e := range s {
			buf.WriteString(e.Key)
			buf.WriteString(": ")
			buf.WriteString(e.Value)
			buf.WriteByte('\n')
		}
	}

	return buf.Bytes()
}

func itoa64(n int64) string {
	return strconv.FormatInt(n, 10)
}

// With returns a copy of f with key set to value. An existing entry is
// replaced in place; a new key is appended as its own section.
func (f File) With(key, value string) File {
	out := File{Name: f.Name, Sections: make([]Section, 0, len(f.Sections)+1)}
	found := false

	for _, s := range f.Sections {
		cp := make(Section, len(s))
		copy(cp, s)

		for j := range cp {
			if cp[j].Key == key {
				cp[j].Value = value
				found = true
			}
		}

		out.Sections = append(out.Sections, cp)
	}

	if !found {
		out.Sections = append(out.Sections, Section{{key, value}})
	}

	return out
}
