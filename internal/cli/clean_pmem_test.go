package cli_test

import (
	"os"
	"testing"

	"github.com/cachekit/ck/internal/cli"
)

func Test_CleanPmem_Removes_Path_When_Present(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteFile("pmem", "x")

	stdout := c.MustRun("clean-pmem", "--path", "pmem")
	cli.AssertContains(t, stdout, "removed "+c.Path("pmem"))

	if _, err := os.Stat(c.Path("pmem")); !os.IsNotExist(err) {
		t.Fatalf("pmem should be removed, stat err=%v", err)
	}

	// Second run is a no-op.
	stdout = c.MustRun("clean-pmem", "--path", "pmem")
	cli.AssertContains(t, stdout, "nothing to remove at "+c.Path("pmem"))
}

func Test_CleanPmem_Reads_Datapool_From_Server_Config_When_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteFile("pool0", "x")
	c.WriteFile("config/slimcache-12300.config", "[slimcache]\ncuckoo_datapool = "+c.Path("pool0")+"\n")

	stdout := c.MustRun("clean-pmem", "--server-config", "config/slimcache-12300.config")
	cli.AssertContains(t, stdout, "removed "+c.Path("pool0"))
}

func Test_CleanPmem_Uses_Setting_When_No_Flags(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteFile(".ck.json", `{"pmem_cleanup_path": "shm/pmem"}`)
	c.WriteFile("shm/pmem", "x")

	stdout := c.MustRun("clean-pmem")
	cli.AssertContains(t, stdout, "removed "+c.Path("shm", "pmem"))
}

func Test_CleanPmem_Returns_Error_When_Both_Flags_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("clean-pmem", "--path", "a", "--server-config", "b")

	cli.AssertContains(t, stderr, "mutually exclusive")
}

func Test_CleanPmem_Resolves_Relative_Datapool_Against_Run_Dir_When_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteFile("test/pmem/pool0", "x")
	c.WriteFile("test/config/slimcache-12300.config", "cuckoo_datapool: pmem/pool0\n")

	stdout := c.MustRun("clean-pmem", "--server-config", "test/config/slimcache-12300.config")
	cli.AssertContains(t, stdout, "removed "+c.Path("test", "pmem", "pool0"))
}
