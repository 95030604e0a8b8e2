package settings_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/cachekit/ck/internal/settings"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func Test_Load_Returns_Defaults_When_No_Config_Files(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	s, err := settings.Load(settings.LoadInput{WorkDirOverride: dir, Env: map[string]string{"HOME": t.TempDir()}})
	require.NoError(t, err)

	want := settings.Default()
	want.EffectiveCwd = dir

	if diff := cmp.Diff(want, s); diff != "" {
		t.Fatalf("settings mismatch (-want +got):\n%s", diff)
	}

	if got, want := int64(s.SlabMem), int64(4<<30); got != want {
		t.Fatalf("slab_mem=%d, want %d", got, want)
	}
}

func Test_Load_Applies_Layers_In_Order_When_All_Present(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	xdg := t.TempDir()

	writeFile(t, filepath.Join(xdg, "ck", "config.json"), `{
		// global
		"instances": 4,
		"engine": "slimcache",
		"addr": "10.0.0.1:12300",
	}`)
	writeFile(t, filepath.Join(dir, ".ck.json"), `{"instances": 6, "slab_mem": "1 MiB"}`)
	writeFile(t, filepath.Join(dir, "ops", "bench.json"), `{"instances": 8, "pmem_paths": ["/mnt/pmem0", "/mnt/pmem1"]}`)

	s, err := settings.Load(settings.LoadInput{
		WorkDirOverride: dir,
		ConfigPath:      "ops/bench.json",
		Env:             map[string]string{"XDG_CONFIG_HOME": xdg},
	})
	require.NoError(t, err)

	if got, want := s.Instances, 8; got != want {
		t.Fatalf("instances=%d, want %d", got, want)
	}

	if got, want := s.Engine, "slimcache"; got != want {
		t.Fatalf("engine=%q, want %q", got, want)
	}

	if got, want := s.SlabMem, settings.Size(1<<20); got != want {
		t.Fatalf("slab_mem=%d, want %d", got, want)
	}

	if diff := cmp.Diff([]string{"/mnt/pmem0", "/mnt/pmem1"}, s.PmemPaths); diff != "" {
		t.Fatalf("pmem mismatch (-want +got):\n%s", diff)
	}

	want := settings.Sources{
		Global:   filepath.Join(xdg, "ck", "config.json"),
		Project:  filepath.Join(dir, ".ck.json"),
		Explicit: filepath.Join(dir, "ops", "bench.json"),
	}
	if diff := cmp.Diff(want, s.Sources); diff != "" {
		t.Fatalf("sources mismatch (-want +got):\n%s", diff)
	}
}

func Test_Load_Uses_Home_Config_When_Xdg_Unset(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	writeFile(t, filepath.Join(home, ".config", "ck", "config.json"), `{"prefix": "bench"}`)

	s, err := settings.Load(settings.LoadInput{WorkDirOverride: t.TempDir(), Env: map[string]string{"HOME": home}})
	require.NoError(t, err)

	if got, want := s.Prefix, "bench"; got != want {
		t.Fatalf("prefix=%q, want %q", got, want)
	}
}

func Test_Load_Returns_Error_When_Config_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{name: "bad json", content: `{"instances": }`, wantErr: settings.ErrConfigInvalid},
		{name: "unknown key", content: `{"instance": 3}`, wantErr: settings.ErrConfigInvalid},
		{name: "bad size", content: `{"slab_mem": "lots"}`, wantErr: settings.ErrInvalidSize},
		{name: "negative", content: `{"vsize": -1}`, wantErr: settings.ErrNegativeValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, ".ck.json"), tt.content)

			_, err := settings.Load(settings.LoadInput{WorkDirOverride: dir})
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func Test_Load_Returns_Error_When_Explicit_Config_Missing(t *testing.T) {
	t.Parallel()

	_, err := settings.Load(settings.LoadInput{WorkDirOverride: t.TempDir(), ConfigPath: "nope.json"})
	require.ErrorIs(t, err, settings.ErrConfigFileNotFound)
}

func Test_ParseSize_Accepts_Bytes_And_Human_Sizes_When_Parsing(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]settings.Size{
		"1048576": 1 << 20,
		"1MiB":    1 << 20,
		"4 GiB":   4 << 30,
		"2MB":     2_000_000,
	} {
		got, err := settings.ParseSize(in)
		require.NoError(t, err, in)

		if got != want {
			t.Fatalf("ParseSize(%q)=%d, want %d", in, got, want)
		}
	}

	_, err := settings.ParseSize("many")
	require.ErrorIs(t, err, settings.ErrInvalidSize)
}

func Test_GenFlags_Override_Loaded_Values_When_Parsed(t *testing.T) {
	t.Parallel()

	s := settings.Default()
	s.PmemPaths = []string{"/from/file"}

	fs := pflag.NewFlagSet("gen", pflag.ContinueOnError)
	s.GenFlags(fs)

	require.NoError(t, fs.Parse([]string{"--instances", "2", "--slab-mem", "1MiB", "--pmem", "/a", "--pmem", "/b"}))

	if got, want := s.Instances, 2; got != want {
		t.Fatalf("instances=%d, want %d", got, want)
	}

	if got, want := s.SlabMem, settings.Size(1<<20); got != want {
		t.Fatalf("slab_mem=%d, want %d", got, want)
	}

	if diff := cmp.Diff([]string{"/a", "/b"}, s.PmemPaths); diff != "" {
		t.Fatalf("pmem mismatch (-want +got):\n%s", diff)
	}

	// Untouched flags keep the loaded value.
	if got, want := s.ValueSize, int64(32); got != want {
		t.Fatalf("vsize=%d, want %d", got, want)
	}
}

func Test_GenFlags_Keeps_Commas_In_Pmem_Path_When_Parsed(t *testing.T) {
	t.Parallel()

	s := settings.Default()

	fs := pflag.NewFlagSet("gen", pflag.ContinueOnError)
	s.GenFlags(fs)

	require.NoError(t, fs.Parse([]string{"--pmem", "/mnt/pmem0,opt"}))

	if diff := cmp.Diff([]string{"/mnt/pmem0,opt"}, s.PmemPaths); diff != "" {
		t.Fatalf("pmem mismatch (-want +got):\n%s", diff)
	}
}

func Test_CasesPath_Defaults_To_Engine_Dir_When_Unset(t *testing.T) {
	t.Parallel()

	s := settings.Default()
	s.EffectiveCwd = "/work"

	if got, want := s.CasesPath(), "/work/twemcache"; got != want {
		t.Fatalf("cases=%q, want %q", got, want)
	}

	s.CasesDir = "/abs/cases"
	if got, want := s.CasesPath(), "/abs/cases"; got != want {
		t.Fatalf("cases=%q, want %q", got, want)
	}

	s.Binary = "pelikan_twemcache"
	if got, want := s.BinaryPath(), "pelikan_twemcache"; got != want {
		t.Fatalf("binary=%q, want %q", got, want)
	}

	s.Binary = "build/pelikan_twemcache"
	if got, want := s.BinaryPath(), "/work/build/pelikan_twemcache"; got != want {
		t.Fatalf("binary=%q, want %q", got, want)
	}
}
