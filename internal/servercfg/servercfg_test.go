package servercfg_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/cachekit/ck/internal/servercfg"
	"github.com/cachekit/ck/internal/topology"
)

func derive(t *testing.T, vsize, mem int64) topology.Derived {
	t.Helper()

	d, err := topology.Sizing{ValueSize: vsize, SlabMem: mem}.Derive()
	require.NoError(t, err)

	return d
}

func Test_Build_Emits_Slab_Block_When_Engine_Is_Twemcache(t *testing.T) {
	t.Parallel()

	topo := topology.Default()
	f := servercfg.Build(topology.Twemcache, topo, derive(t, 32, 1048576), 1)

	if got, want := f.Name, "twemcache-12301.config"; got != want {
		t.Errorf("Name=%q, want=%q", got, want)
	}

	if got, want := f.Path(), "config/twemcache-12301.config"; got != want {
		t.Errorf("Path()=%q, want=%q", got, want)
	}

	text := string(servercfg.Render(f))

	for _, line := range []string{
		"daemonize: yes\n",
		"admin_port: 9901\n",
		"server_port: 12301\n",
		"debug_log_file: log/twemcache-12301.log\n",
		"klog_backup: log/twemcache-12301.cmd.old\n",
		"prefill_vsize: 32\n",
		"prefill_nkey: 9363\n",
		"slab_hash_power: 14\n",
		"slab_mem: 1048576\n",
		"slab_size: 1048756\n",
		"stats_log_file: log/twemcache-12301.stats\n",
	} {
		if !strings.Contains(text, line) {
			t.Errorf("config should contain %q\nconfig:\n%s", line, text)
		}
	}

	if strings.Contains(text, "datapool:") {
		t.Errorf("config without pmem should not name a datapool\nconfig:\n%s", text)
	}
}

func Test_Build_Emits_Cuckoo_Block_When_Engine_Is_Slimcache(t *testing.T) {
	t.Parallel()

	f := servercfg.Build(topology.Slimcache, topology.Default(), derive(t, 32, 1048576), 0)
	text := string(servercfg.Render(f))

	if !strings.HasSuffix(text, "\ncuckoo_item_size: 112\ncuckoo_nitem: 9363\n") {
		t.Errorf("config should end with the cuckoo block\nconfig:\n%s", text)
	}

	if strings.Contains(text, "slab_") {
		t.Errorf("slimcache config should not carry slab settings\nconfig:\n%s", text)
	}
}

func Test_Build_Keeps_Generic_Block_Identical_When_Engine_Changes(t *testing.T) {
	t.Parallel()

	topo := topology.Default()
	topo.PmemPaths = []string{"/mnt/pmem0", "/mnt/pmem1"}
	d := derive(t, 64, 1<<24)

	for i := range topo.Instances {
		slab := servercfg.Build(topology.Twemcache, topo, d, i)
		cuckoo := servercfg.Build(topology.Slimcache, topo, d, i)

		// Generic sections precede the engine section and the datapool line.
		n := len(slab.Sections) - 2

		slabGeneric := strings.ReplaceAll(string(servercfg.Render(servercfg.File{Sections: slab.Sections[:n]})), "twemcache", "ENGINE")
		cuckooGeneric := strings.ReplaceAll(string(servercfg.Render(servercfg.File{Sections: cuckoo.Sections[:n]})), "slimcache", "ENGINE")

		if diff := cmp.Diff(slabGeneric, cuckooGeneric); diff != "" {
			t.Errorf("instance %d generic block differs (-slab +cuckoo):\n%s", i, diff)
		}

		slabPool, _ := slab.Lookup("slab_datapool")
		cuckooPool, _ := cuckoo.Lookup("cuckoo_datapool")

		if got, want := cuckooPool, slabPool; got != want {
			t.Errorf("instance %d datapool=%q, want=%q", i, got, want)
		}
	}
}

func Test_Build_Assigns_Pmem_Path_Cyclically_When_Paths_Given(t *testing.T) {
	t.Parallel()

	topo := topology.Default()
	topo.Instances = 5
	topo.PmemPaths = []string{"/mnt/pmem0", "/mnt/pmem1"}
	d := derive(t, 32, 1<<20)

	want := []string{"/mnt/pmem0", "/mnt/pmem1", "/mnt/pmem0", "/mnt/pmem1", "/mnt/pmem0"}

	for i, w := range want {
		f := servercfg.Build(topology.Twemcache, topo, d, i)

		got, ok := f.Lookup("slab_datapool")
		if !ok || got != w {
			t.Errorf("instance %d slab_datapool=%q (ok=%v), want=%q", i, got, ok, w)
		}

		if !strings.HasSuffix(string(servercfg.Render(f)), "\n\nslab_datapool: "+w+"\n") {
			t.Errorf("instance %d datapool should be the last section", i)
		}
	}
}

func Test_Render_Is_Deterministic_When_Inputs_Identical(t *testing.T) {
	t.Parallel()

	d := derive(t, 32, 1048576)
	a := servercfg.Render(servercfg.Build(topology.Twemcache, topology.Default(), d, 2))
	b := servercfg.Render(servercfg.Build(topology.Twemcache, topology.Default(), d, 2))

	if !bytes.Equal(a, b) {
		t.Errorf("renders differ:\n%s\n---\n%s", a, b)
	}
}

func Test_With_Replaces_Or_Appends_When_Overriding(t *testing.T) {
	t.Parallel()

	orig := servercfg.Build(topology.Twemcache, topology.Default(), derive(t, 32, 1048576), 0)
	f := orig.With("daemonize", "no").With("slab_datapool", "/dev/shm/pmem")

	if got, _ := f.Lookup("daemonize"); got != "no" {
		t.Errorf("daemonize=%q, want=no", got)
	}

	if got, _ := orig.Lookup("daemonize"); got != "yes" {
		t.Errorf("original daemonize=%q, want=yes (With must not mutate)", got)
	}

	if got, want := len(f.Sections), len(orig.Sections)+1; got != want {
		t.Errorf("sections=%d, want=%d", got, want)
	}
}

func Test_ParseServer_Reads_Generated_Config_When_Round_Tripped(t *testing.T) {
	t.Parallel()

	topo := topology.Default()
	topo.PmemPaths = []string{"/mnt/pmem0"}
	f := servercfg.Build(topology.Twemcache, topo, derive(t, 32, 1048576), 0)

	srv, err := servercfg.ParseServer(servercfg.Render(f))
	require.NoError(t, err)

	want := servercfg.Server{
		AdminPort:    9900,
		ServerPort:   12300,
		Daemonize:    true,
		DebugLogFile: "log/twemcache-12300.log",
		SlabMem:      1048576,
		SlabDatapool: "/mnt/pmem0",
	}

	if diff := cmp.Diff(want, srv); diff != "" {
		t.Errorf("ParseServer mismatch (-want +got):\n%s", diff)
	}

	if got, want := srv.Datapool(), "/mnt/pmem0"; got != want {
		t.Errorf("Datapool()=%q, want=%q", got, want)
	}
}

func Test_Parse_Accepts_Ini_Style_When_Sections_And_Comments_Present(t *testing.T) {
	t.Parallel()

	data := []byte(`# integration test config
[server]
; comment
server_port = 12321
cuckoo_datapool: /dev/shm/pmem
`)

	vals, err := servercfg.Parse(data)
	require.NoError(t, err)

	want := servercfg.Values{"server_port": "12321", "cuckoo_datapool": "/dev/shm/pmem"}
	if diff := cmp.Diff(want, vals); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func Test_Parse_Returns_Error_When_Line_Malformed(t *testing.T) {
	t.Parallel()

	_, err := servercfg.Parse([]byte("server_port: 1\njust garbage\n"))
	if !errors.Is(err, servercfg.ErrMalformedLine) {
		t.Errorf("err=%v, want ErrMalformedLine", err)
	}
}

func Test_Parse_Keeps_Last_Value_When_Key_Repeated(t *testing.T) {
	t.Parallel()

	vals, err := servercfg.Parse([]byte("daemonize: yes\ndebug_log_file: log/a#1.log\ndaemonize: no\n"))
	require.NoError(t, err)

	want := servercfg.Values{"daemonize": "no", "debug_log_file": "log/a#1.log"}
	if diff := cmp.Diff(want, vals); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}
