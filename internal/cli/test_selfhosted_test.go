package cli_test

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/cachekit/ck/internal/cli"
	"github.com/cachekit/ck/internal/itest/memcachetest"
	"github.com/cachekit/ck/internal/servercfg"
)

const (
	cacheHelperEnv    = "CK_CACHE_HELPER"
	cacheHelperRecord = "CK_CACHE_HELPER_RECORD"
)

// Test_Helper_Cache_Server is not a real test. It is the cache server binary
// `ck test --binary` launches through a wrapper script. It refuses configs
// that would daemonize or prefill, appends "<config> <datapool>" to the
// record file, and serves the memcache protocol on server_port until
// SIGTERM, keeping items in the datapool file across restarts.
func Test_Helper_Cache_Server(t *testing.T) {
	if os.Getenv(cacheHelperEnv) != "1" {
		t.Skip("helper process")
	}

	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]

			break
		}
	}

	fail := func(err error) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		fail(err)
	}

	vals, err := servercfg.Parse(data)
	if err != nil {
		fail(err)
	}

	if vals["daemonize"] != "no" || vals["prefill"] != "no" {
		fmt.Fprintf(os.Stderr, "daemonize=%q prefill=%q, want no/no\n", vals["daemonize"], vals["prefill"])
		os.Exit(3)
	}

	srv, err := servercfg.ParseServer(data)
	if err != nil {
		fail(err)
	}

	rec, err := os.OpenFile(os.Getenv(cacheHelperRecord), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		fail(err)
	}

	fmt.Fprintf(rec, "%s %s\n", args[0], srv.Datapool())
	_ = rec.Close()

	cache := memcachetest.NewAt(fmt.Sprintf("127.0.0.1:%d", srv.ServerPort))
	cache.Persistent = srv.Datapool() != ""
	cache.Datapool = srv.Datapool()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, unix.SIGTERM)

	if err := cache.Start(t.Context()); err != nil {
		fail(err)
	}

	<-sig

	if err := cache.Stop(); err != nil {
		fail(err)
	}

	os.Exit(0)
}

func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}

	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	return port
}

const recoveryCase = `steps:
  - {op: set, key: foo, value: bar}
  - {op: get, key: foo, expect: bar}
  - {op: set, key: n, value: "10"}
  - {op: incr, key: n, delta: 5, expect: "15"}
`

func Test_Test_Starts_Own_Server_When_Binary_Given(t *testing.T) {
	t.Parallel()

	exe, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}

	c := cli.NewCLI(t)
	record := c.Path("launches")

	c.WriteFile("bin/cache-server", fmt.Sprintf("#!/bin/sh\nexec env %s=1 %s=%q %q -test.run='^Test_Helper_Cache_Server$' -- \"$@\"\n",
		cacheHelperEnv, cacheHelperRecord, record, exe))

	if err := os.Chmod(c.Path("bin", "cache-server"), 0o755); err != nil {
		t.Fatal(err)
	}

	c.WriteFile(".ck.json", fmt.Sprintf(`{"server_port": %d, "admin_port": %d}`, freePort(t), freePort(t)))
	c.WriteFile("twemcache/recover.yaml", recoveryCase)
	c.WriteFile("pool", "stale")

	stdout, stderr, code := c.Run("test", "--binary", "bin/cache-server", "--pmem-path", "pool")
	if code != 0 {
		t.Fatalf("exit code=%d\nstdout=%s\nstderr=%s", code, stdout, stderr)
	}

	cli.AssertContains(t, stdout, "--- PASS: generic/recover")
	cli.AssertContains(t, stdout, "--- PASS: pmem/recover")
	cli.AssertContains(t, stdout, "recovered 2 keys after restart")
	cli.AssertContains(t, stdout, "removed "+c.Path("pool"))

	if _, err := os.Stat(c.Path("pool")); !os.IsNotExist(err) {
		t.Fatalf("datapool should be removed, stat err=%v", err)
	}

	// One generic start, then the pmem start and its restart.
	lines := strings.Split(strings.TrimSpace(c.ReadFile("launches")), "\n")
	if got, want := len(lines), 3; got != want {
		t.Fatalf("launches=%d, want %d:\n%s", got, want, strings.Join(lines, "\n"))
	}

	for i, line := range lines {
		config, datapool, _ := strings.Cut(line, " ")

		wantVariant, wantPool := "pmem", c.Path("pool")
		if i == 0 {
			wantVariant, wantPool = "generic", ""
		}

		if got := filepath.Base(filepath.Dir(filepath.Dir(config))); got != wantVariant {
			t.Errorf("launch %d: config %s is not in the %s run dir", i, config, wantVariant)
		}

		if datapool != wantPool {
			t.Errorf("launch %d: datapool=%q, want %q", i, datapool, wantPool)
		}

		if _, err := os.Stat(filepath.Dir(filepath.Dir(filepath.Dir(config)))); !os.IsNotExist(err) {
			t.Errorf("launch %d: server dir of %s left behind, stat err=%v", i, config, err)
		}
	}
}
