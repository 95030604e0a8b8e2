// Package memcachetest provides an in-process server speaking the memcache
// text protocol, for testing the integration runner without the real binary.
//
// It implements the commands the runner issues: set, add, replace, get,
// gets, delete, incr, decr, touch, flush_all and version. Expiration times
// are accepted but items never expire.
package memcachetest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
)

type item struct {
	flags uint32
	value []byte
	cas   uint64
}

// Server is a restartable fake cache server bound to a fixed address.
type Server struct {
	// Persistent keeps items across Stop/Start, like a server recovering
	// from a datapool. Otherwise every Start begins empty.
	Persistent bool

	// Datapool stands in for the file the real server maps. See restore.
	Datapool string

	addr string

	mu      sync.Mutex
	ln      net.Listener
	conns   map[net.Conn]struct{}
	items   map[string]item
	nextCAS uint64
	starts  int
	wg      sync.WaitGroup
}

// New reserves a loopback address and returns a stopped server. It is
// stopped automatically when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("memcachetest: reserve address: %v", err)
	}

	addr := ln.Addr().String()
	_ = ln.Close()

	s := NewAt(addr)
	t.Cleanup(func() { _ = s.Stop() })

	return s
}

// NewAt returns a stopped server that will listen on addr. The caller stops
// it. Used when the fake runs as a separate process on a configured port.
func NewAt(addr string) *Server {
	return &Server{addr: addr, items: make(map[string]item)}
}

// Run returns a started server.
func Run(t testing.TB) *Server {
	t.Helper()

	s := New(t)
	if err := s.listen(); err != nil {
		t.Fatalf("memcachetest: %v", err)
	}

	return s
}

// Addr returns host:port of the server.
func (s *Server) Addr() string {
	return s.addr
}

// Starts returns how many times the server was started.
func (s *Server) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.starts
}

// Start begins serving. It does not block.
func (s *Server) Start(context.Context) error {
	return s.listen()
}

func (s *Server) listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ln != nil {
		return errors.New("already running")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}

	if err := s.restore(); err != nil {
		_ = ln.Close()

		return err
	}

	s.ln = ln
	s.conns = make(map[net.Conn]struct{})
	s.starts++

	s.wg.Add(1)

	go s.accept(ln)

	return nil
}

// restore decides what survives a restart. A persistent server with a
// Datapool reloads the items saved there by Stop, keeps its in-memory items
// when the file is empty, and starts empty and creates the file when it is
// missing. Must be called with s.mu held.
func (s *Server) restore() error {
	if !s.Persistent {
		s.items = make(map[string]item)

		return nil
	}

	if s.Datapool == "" {
		return nil
	}

	data, err := os.ReadFile(s.Datapool)

	switch {
	case err == nil:
		if len(data) == 0 {
			return nil
		}

		var saved map[string]savedItem
		if err := json.Unmarshal(data, &saved); err != nil {
			return fmt.Errorf("load datapool %s: %w", s.Datapool, err)
		}

		s.items = make(map[string]item, len(saved))
		for k, it := range saved {
			s.items[k] = item{flags: it.Flags, value: it.Value, cas: it.CAS}
			s.nextCAS = max(s.nextCAS, it.CAS)
		}

		return nil
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("read datapool: %w", err)
	}

	s.items = make(map[string]item)

	if err := os.WriteFile(s.Datapool, nil, 0o600); err != nil {
		return fmt.Errorf("create datapool: %w", err)
	}

	return nil
}

// savedItem is the datapool form of an item.
type savedItem struct {
	Flags uint32 `json:"flags"`
	Value []byte `json:"value"`
	CAS   uint64 `json:"cas"`
}

// save writes the items to the datapool. Must be called with s.mu held.
func (s *Server) save() error {
	if !s.Persistent || s.Datapool == "" {
		return nil
	}

	saved := make(map[string]savedItem, len(s.items))
	for k, it := range s.items {
		saved[k] = savedItem{Flags: it.flags, Value: it.value, CAS: it.cas}
	}

	data, err := json.Marshal(saved)
	if err != nil {
		return fmt.Errorf("save datapool: %w", err)
	}

	if err := os.WriteFile(s.Datapool, data, 0o600); err != nil {
		return fmt.Errorf("save datapool: %w", err)
	}

	return nil
}

// Stop closes the listener and every open connection, waits for the
// handlers to exit and, when persistent, saves the items to the datapool.
// Stopping a stopped server is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()

	if s.ln == nil {
		s.mu.Unlock()

		return nil
	}

	err := s.ln.Close()
	s.ln = nil

	for c := range s.conns {
		_ = c.Close()
	}

	s.mu.Unlock()
	s.wg.Wait()

	s.mu.Lock()
	saveErr := s.save()
	s.mu.Unlock()

	return errors.Join(err, saveErr)
}

func (s *Server) accept(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		if s.ln != ln {
			s.mu.Unlock()
			_ = conn.Close()

			return
		}

		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	for {
		line, err := rw.ReadString('\n')
		if err != nil {
			return
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		if err := s.handle(rw, fields); err != nil {
			return
		}

		if err := rw.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) handle(rw *bufio.ReadWriter, f []string) error {
	switch f[0] {
	case "set", "add", "replace":
		return s.store(rw, f)
	case "get", "gets":
		return s.get(rw, f[1:], f[0] == "gets")
	case "delete":
		return s.reply(rw, f, 2, func() string {
			if _, ok := s.items[f[1]]; !ok {
				return "NOT_FOUND"
			}

			delete(s.items, f[1])

			return "DELETED"
		})
	case "incr", "decr":
		return s.reply(rw, f, 3, func() string { return s.arith(f[0], f[1], f[2]) })
	case "touch":
		return s.reply(rw, f, 3, func() string {
			if _, ok := s.items[f[1]]; !ok {
				return "NOT_FOUND"
			}

			return "TOUCHED"
		})
	case "flush_all":
		return s.reply(rw, f, 1, func() string {
			s.items = make(map[string]item)

			return "OK"
		})
	case "version":
		return writeLine(rw, "VERSION memcachetest")
	default:
		return writeLine(rw, "ERROR")
	}
}

// reply runs fn under the lock when f has at least n fields.
func (s *Server) reply(rw *bufio.ReadWriter, f []string, n int, fn func() string) error {
	if len(f) < n {
		return writeLine(rw, "ERROR")
	}

	s.mu.Lock()
	resp := fn()
	s.mu.Unlock()

	return writeLine(rw, resp)
}

func (s *Server) store(rw *bufio.ReadWriter, f []string) error {
	if len(f) < 5 {
		return writeLine(rw, "ERROR")
	}

	flags, err1 := strconv.ParseUint(f[2], 10, 32)
	size, err2 := strconv.Atoi(f[4])

	if err1 != nil || err2 != nil || size < 0 {
		return writeLine(rw, "CLIENT_ERROR bad command line format")
	}

	data := make([]byte, size+2)
	if _, err := io.ReadFull(rw, data); err != nil {
		return err
	}

	if string(data[size:]) != "\r\n" {
		return writeLine(rw, "CLIENT_ERROR bad data chunk")
	}

	key := f[1]

	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.items[key]

	switch {
	case f[0] == "add" && exists, f[0] == "replace" && !exists:
		return writeLine(rw, "NOT_STORED")
	}

	s.nextCAS++
	s.items[key] = item{flags: uint32(flags), value: data[:size], cas: s.nextCAS}

	return writeLine(rw, "STORED")
}

func (s *Server) get(rw *bufio.ReadWriter, keys []string, withCAS bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		it, ok := s.items[k]
		if !ok {
			continue
		}

		if withCAS {
			fmt.Fprintf(rw, "VALUE %s %d %d %d\r\n", k, it.flags, len(it.value), it.cas)
		} else {
			fmt.Fprintf(rw, "VALUE %s %d %d\r\n", k, it.flags, len(it.value))
		}

		_, _ = rw.Write(it.value)
		_, _ = rw.WriteString("\r\n")
	}

	return writeLine(rw, "END")
}

// arith must be called with s.mu held.
func (s *Server) arith(op, key, deltaStr string) string {
	delta, err := strconv.ParseUint(deltaStr, 10, 64)
	if err != nil {
		return "CLIENT_ERROR invalid numeric delta argument"
	}

	it, ok := s.items[key]
	if !ok {
		return "NOT_FOUND"
	}

	cur, err := strconv.ParseUint(string(it.value), 10, 64)
	if err != nil {
		return "CLIENT_ERROR cannot increment or decrement non-numeric value"
	}

	switch {
	case op == "incr":
		cur += delta
	case delta > cur:
		cur = 0
	default:
		cur -= delta
	}

	s.nextCAS++
	it.value = []byte(strconv.FormatUint(cur, 10))
	it.cas = s.nextCAS
	s.items[key] = it

	return string(it.value)
}

func writeLine(w io.Writer, line string) error {
	_, err := io.WriteString(w, line+"\r\n")

	return err
}
