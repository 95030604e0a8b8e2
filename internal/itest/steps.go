package itest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// DefaultTimeout bounds a single client request.
const DefaultTimeout = 2 * time.Second

var (
	ErrUnexpectedValue   = errors.New("unexpected value")
	ErrUnexpectedError   = errors.New("unexpected error")
	ErrMissingError      = errors.New("expected error did not occur")
	ErrNotRecovered      = errors.New("value not recovered after restart")
	ErrDatapoolMissing   = errors.New("datapool file not found after run")
	ErrServerUnavailable = errors.New("server unavailable")
)

func newClient(env Env) *memcache.Client {
	c := memcache.New(env.Addr)

	c.Timeout = env.Timeout
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}

	return c
}

// stored tracks the values the server should hold after the steps so far.
// Keys set with an expiration are not tracked.
type stored map[string]string

// runSteps replays steps and returns the expected final state.
func runSteps(ctx context.Context, client *memcache.Client, steps []Step) (stored, error) {
	state := make(stored)

	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		if err := runStep(client, s, state); err != nil {
			return state, fmt.Errorf("step %d (%s %s): %w", i+1, s.Op, s.Key, err)
		}
	}

	return state, nil
}

func runStep(client *memcache.Client, s Step, state stored) error {
	item := &memcache.Item{Key: s.Key, Value: []byte(s.Value), Flags: s.Flags, Expiration: s.Expiration}

	var (
		got    string
		hasGot bool
		err    error
	)

	switch s.Op {
	case OpSet:
		err = client.Set(item)
	case OpAdd:
		err = client.Add(item)
	case OpReplace:
		err = client.Replace(item)
	case OpGet:
		var it *memcache.Item

		it, err = client.Get(s.Key)
		if err == nil {
			got, hasGot = string(it.Value), true
		}
	case OpDelete:
		err = client.Delete(s.Key)
	case OpIncr, OpDecr:
		var n uint64

		if s.Op == OpIncr {
			n, err = client.Increment(s.Key, s.Delta)
		} else {
			n, err = client.Decrement(s.Key, s.Delta)
		}

		if err == nil {
			got, hasGot = strconv.FormatUint(n, 10), true
		}
	case OpTouch:
		err = client.Touch(s.Key, s.Expiration)
	case OpFlushAll:
		err = client.FlushAll()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, s.Op)
	}

	if checkErr := checkError(s, err); checkErr != nil {
		return checkErr
	}

	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			delete(state, s.Key)
		}

		return nil
	}

	if s.Expect != nil && hasGot && got != *s.Expect {
		return fmt.Errorf("%w: got %q, want %q", ErrUnexpectedValue, got, *s.Expect)
	}

	track(s, got, state)

	return nil
}

// checkError compares the request error with the step's expectation.
func checkError(s Step, err error) error {
	var want error

	switch s.ExpectError {
	case ExpectMiss:
		want = memcache.ErrCacheMiss
	case ExpectNotStored:
		want = memcache.ErrNotStored
	}

	switch {
	case want == nil && err != nil:
		if isConnError(err) {
			return fmt.Errorf("%w: %w", ErrServerUnavailable, err)
		}

		return fmt.Errorf("%w: %w", ErrUnexpectedError, err)
	case want != nil && err == nil:
		return fmt.Errorf("%w: want %s", ErrMissingError, s.ExpectError)
	case want != nil && !errors.Is(err, want):
		return fmt.Errorf("%w: got %v, want %s", ErrUnexpectedError, err, s.ExpectError)
	default:
		return nil
	}
}

func isConnError(err error) bool {
	var (
		connErr *memcache.ConnectTimeoutError
		opErr   *net.OpError
	)

	return errors.As(err, &connErr) || errors.As(err, &opErr) || errors.Is(err, memcache.ErrNoServers)
}

func track(s Step, got string, state stored) {
	switch s.Op {
	case OpSet, OpAdd, OpReplace:
		if s.Expiration != 0 {
			delete(state, s.Key)

			return
		}

		state[s.Key] = s.Value
	case OpIncr, OpDecr:
		if _, ok := state[s.Key]; ok {
			state[s.Key] = got
		}
	case OpDelete:
		delete(state, s.Key)
	case OpTouch:
		if s.Expiration != 0 {
			delete(state, s.Key)
		}
	case OpFlushAll:
		clear(state)
	}
}
