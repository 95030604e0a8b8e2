package itest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

type genericTest struct {
	base
}

func (t *genericTest) Run(ctx context.Context) Outcome {
	start := time.Now()
	out := t.run(ctx)
	out.Duration = time.Since(start)

	return out
}

func (t *genericTest) run(ctx context.Context) Outcome {
	if t.loadErr != nil {
		return failed(t.loadErr)
	}

	stop, err := startServer(ctx, t.env)
	if err != nil {
		return failed(err)
	}

	_, err = runSteps(ctx, newClient(t.env), t.c.Steps)

	if stopErr := stop(); stopErr != nil && err == nil {
		err = stopErr
	}

	if err != nil {
		return failed(err)
	}

	return Outcome{Status: Pass}
}

// pmemTest replays the steps and, when the runner controls the server,
// restarts it and checks that every stored value was recovered from the
// datapool.
type pmemTest struct {
	base
}

func (t *pmemTest) Run(ctx context.Context) Outcome {
	start := time.Now()
	out := t.run(ctx)
	out.Duration = time.Since(start)

	return out
}

func (t *pmemTest) run(ctx context.Context) Outcome {
	if t.loadErr != nil {
		return failed(t.loadErr)
	}

	if t.env.Server != nil && t.env.Reset != nil {
		if _, err := t.env.Reset.Clean(t.env.FS); err != nil {
			return failed(fmt.Errorf("reset datapool: %w", err))
		}
	}

	stop, err := startServer(ctx, t.env)
	if err != nil {
		return failed(err)
	}

	state, err := runSteps(ctx, newClient(t.env), t.c.Steps)

	if stopErr := stop(); stopErr != nil && err == nil {
		err = stopErr
	}

	if err != nil {
		return failed(err)
	}

	if t.env.Server == nil {
		return Outcome{Status: Pass, Notes: []string{"restart check skipped: server is not managed by the runner"}}
	}

	if err := t.checkDatapool(); err != nil {
		return failed(err)
	}

	if err := t.checkRecovery(ctx, state); err != nil {
		return failed(err)
	}

	return Outcome{Status: Pass, Notes: []string{fmt.Sprintf("recovered %d keys after restart", len(state))}}
}

func (t *pmemTest) checkDatapool() error {
	if t.env.Reset == nil {
		return nil
	}

	path, err := t.env.Reset.Path(t.env.FS)
	if err != nil {
		return err
	}

	ok, err := t.env.FS.Exists(path)
	if err != nil {
		return fmt.Errorf("stat datapool %s: %w", path, err)
	}

	if !ok {
		return fmt.Errorf("%w: %s", ErrDatapoolMissing, path)
	}

	return nil
}

func (t *pmemTest) checkRecovery(ctx context.Context, state stored) error {
	stop, err := startServer(ctx, t.env)
	if err != nil {
		return fmt.Errorf("restart: %w", err)
	}

	client := newClient(t.env)
	keys := make([]string, 0, len(state))

	for k := range state {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var errs []error

	for _, k := range keys {
		it, getErr := client.Get(k)

		switch {
		case errors.Is(getErr, memcache.ErrCacheMiss):
			errs = append(errs, fmt.Errorf("%w: %s missing", ErrNotRecovered, k))
		case getErr != nil:
			errs = append(errs, fmt.Errorf("get %s after restart: %w", k, getErr))
		case string(it.Value) != state[k]:
			errs = append(errs, fmt.Errorf("%w: %s=%q, want %q", ErrNotRecovered, k, it.Value, state[k]))
		}
	}

	if stopErr := stop(); stopErr != nil {
		errs = append(errs, stopErr)
	}

	return errors.Join(errs...)
}

// startServer starts env.Server if the runner controls it and returns the
// matching stop function.
func startServer(ctx context.Context, env Env) (func() error, error) {
	if env.Server == nil {
		return func() error { return nil }, nil
	}

	if err := env.Server.Start(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServerUnavailable, err)
	}

	return env.Server.Stop, nil
}
