package itest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cachekit/ck/internal/fs"
	"github.com/cachekit/ck/internal/itest"
	"github.com/cachekit/ck/internal/servercfg"
)

func Test_FixedPath_Clean_Removes_File_When_Present(t *testing.T) {
	t.Parallel()

	pool := filepath.Join(t.TempDir(), "pmem")
	require.NoError(t, os.WriteFile(pool, []byte("pool"), 0o600))

	removed, err := itest.FixedPath{Target: pool}.Clean(fs.NewReal())
	require.NoError(t, err)
	require.True(t, removed)

	_, err = os.Stat(pool)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func Test_FixedPath_Clean_Reports_Nothing_When_File_Absent(t *testing.T) {
	t.Parallel()

	removed, err := itest.FixedPath{Target: filepath.Join(t.TempDir(), "pmem")}.Clean(fs.NewReal())
	require.NoError(t, err)
	require.False(t, removed)
}

func Test_FromConfig_Clean_Removes_Datapool_When_Config_Names_One(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pool := filepath.Join(dir, "pool0")
	require.NoError(t, os.WriteFile(pool, nil, 0o600))

	cfg := filepath.Join(dir, "slimcache.config")
	require.NoError(t, os.WriteFile(cfg, []byte("daemonize: no\ncuckoo_datapool: "+pool+"\n"), 0o644))

	c := itest.FromConfig{ConfigPath: cfg}

	path, err := c.Path(fs.NewReal())
	require.NoError(t, err)

	if got, want := path, pool; got != want {
		t.Fatalf("path=%q, want %q", got, want)
	}

	removed, err := c.Clean(fs.NewReal())
	require.NoError(t, err)
	require.True(t, removed)
}

func Test_FromConfig_Path_Returns_Error_When_Config_Has_No_Datapool(t *testing.T) {
	t.Parallel()

	cfg := filepath.Join(t.TempDir(), "twemcache.config")
	require.NoError(t, os.WriteFile(cfg, []byte("daemonize: no\nslab_mem: 1024\n"), 0o644))

	_, err := itest.FromConfig{ConfigPath: cfg}.Path(fs.NewReal())
	require.ErrorIs(t, err, servercfg.ErrNoDatapool)

	_, err = itest.FromConfig{ConfigPath: cfg + ".missing"}.Clean(fs.NewReal())
	require.ErrorIs(t, err, os.ErrNotExist)
}

func Test_FromConfig_Path_Resolves_Relative_Datapool_When_Config_Is_In_Run_Dir(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	for _, tt := range []struct {
		name   string
		config string
		want   string
	}{
		{name: "under config dir", config: filepath.Join(root, "test", "config", "slimcache-12300.config"), want: filepath.Join(root, "test", "pool0")},
		{name: "loose file", config: filepath.Join(root, "loose", "server.config"), want: filepath.Join(root, "loose", "pool0")},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			require.NoError(t, os.MkdirAll(filepath.Dir(tt.config), 0o755))
			require.NoError(t, os.WriteFile(tt.config, []byte("cuckoo_datapool: pool0\n"), 0o644))
			require.NoError(t, os.WriteFile(tt.want, []byte("pool"), 0o600))

			c := itest.FromConfig{ConfigPath: tt.config}

			got, err := c.Path(fs.NewReal())
			require.NoError(t, err)
			require.Equal(t, tt.want, got)

			removed, err := c.Clean(fs.NewReal())
			require.NoError(t, err)
			require.True(t, removed)
		})
	}
}
