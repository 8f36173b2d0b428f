package store

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/valkey-io/valkey-go"

	"github.com/fleetform/cascade/internal/errtax"
	"github.com/fleetform/cascade/internal/types"
	"github.com/fleetform/cascade/pkg/logging"
)

// Valkey is an Adapter backed by a Valkey/Redis-protocol cluster. Every call
// carries the default per-operation deadline and a small bounded retry
// before a StoreUnavailable error surfaces, per the store contract.
type Valkey struct {
	client   valkey.Client
	deadline time.Duration
	retries  uint64
}

// ValkeyOption configures a Valkey adapter.
type ValkeyOption func(*Valkey)

// WithDeadline overrides the per-call deadline (default 5s).
func WithDeadline(d time.Duration) ValkeyOption {
	return func(v *Valkey) { v.deadline = d }
}

// WithRetries overrides the number of bounded retry attempts (default 2,
// i.e. up to 3 total attempts) before the call surfaces StoreUnavailable.
func WithRetries(n uint64) ValkeyOption {
	return func(v *Valkey) { v.retries = n }
}

// NewValkey dials a Valkey cluster at the given addresses.
func NewValkey(addresses []string, password string, opts ...ValkeyOption) (*Valkey, error) {
	option := valkey.ClientOption{InitAddress: addresses}
	if password != "" {
		option.Password = password
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, errtax.Wrap(errtax.StoreUnavailable, "failed to dial store", err)
	}

	v := &Valkey{client: client, deadline: 5 * time.Second, retries: 2}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Close releases the underlying connection pool.
func (v *Valkey) Close() {
	v.client.Close()
}

// withRetry applies the per-call deadline and then performs fn with bounded
// exponential backoff, wrapping a persistent failure as StoreUnavailable.
// Kept as an explicit loop (rather than backoff.Retry's closure form) so a
// context cancellation and a store-side error are both observable to the
// caller.
func (v *Valkey) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, v.deadline)
	defer cancel()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	bo := backoff.WithMaxRetries(b, v.retries)

	var lastErr error
	attempt := 0
	for {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		logging.Warn("Store", "%s attempt %d failed, retrying in %s: %v", op, attempt, wait, err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errtax.Wrap(errtax.StoreUnavailable, op+" canceled", ctx.Err())
		case <-timer.C:
		}
	}

	return errtax.Wrap(errtax.StoreUnavailable, op+" failed after retries", lastErr)
}

func (v *Valkey) ReadModelState(ctx context.Context, name string) (types.ModelState, error) {
	var result types.ModelState
	err := v.withRetry(ctx, "read model state", func(ctx context.Context) error {
		val, err := v.get(ctx, modelStateKey(name))
		if err != nil {
			return err
		}
		if val == "" {
			result = types.ModelCreated
			return nil
		}
		result = types.ModelState(val)
		return nil
	})
	return result, err
}

func (v *Valkey) WriteModelState(ctx context.Context, name string, state types.ModelState) error {
	return v.withRetry(ctx, "write model state", func(ctx context.Context) error {
		return v.set(ctx, modelStateKey(name), string(state))
	})
}

func (v *Valkey) ReadPackageState(ctx context.Context, name string) (types.PackageState, error) {
	var result types.PackageState
	err := v.withRetry(ctx, "read package state", func(ctx context.Context) error {
		val, err := v.get(ctx, packageStateKey(name))
		if err != nil {
			return err
		}
		if val == "" {
			result = types.PackageIdle
			return nil
		}
		result = types.PackageState(val)
		return nil
	})
	return result, err
}

func (v *Valkey) WritePackageState(ctx context.Context, name string, state types.PackageState) error {
	return v.withRetry(ctx, "write package state", func(ctx context.Context) error {
		return v.set(ctx, packageStateKey(name), string(state))
	})
}

func (v *Valkey) ListModelsOfPackage(ctx context.Context, packageName string) ([]string, error) {
	var names []string
	err := v.withRetry(ctx, "list package members", func(ctx context.Context) error {
		names = nil
		prefix := membersPrefix(packageName)
		cursor := uint64(0)
		for {
			entry, err := v.client.Do(ctx, v.client.B().Scan().Cursor(cursor).Match(prefix+"*").Build()).AsScanEntry()
			if err != nil {
				return err
			}
			for _, key := range entry.Elements {
				names = append(names, strings.TrimPrefix(key, prefix))
			}
			cursor = entry.Cursor
			if cursor == 0 {
				return nil
			}
		}
	})
	return names, err
}

func (v *Valkey) ReadParentPackage(ctx context.Context, modelName string) (string, bool, error) {
	var name string
	var ok bool
	err := v.withRetry(ctx, "read parent package", func(ctx context.Context) error {
		val, err := v.get(ctx, modelParentKey(modelName))
		if err != nil {
			return err
		}
		name = val
		ok = val != ""
		return nil
	})
	return name, ok, err
}

func (v *Valkey) get(ctx context.Context, key string) (string, error) {
	resp := v.client.Do(ctx, v.client.B().Get().Key(key).Build())
	val, err := resp.ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return "", nil
		}
		return "", err
	}
	return val, nil
}

func (v *Valkey) set(ctx context.Context, key, value string) error {
	return v.client.Do(ctx, v.client.B().Set().Key(key).Value(value).Build()).Error()
}

var _ Adapter = (*Valkey)(nil)
