package ingestion

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/nfsync/internal/config"
	remotedomain "github.com/smallbiznis/nfsync/internal/remotestore/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// unreachableStore hangs on Exists the way a dial to a dead FTP host does.
type unreachableStore struct {
	remotedomain.Client
	calls atomic.Int32
}

func (u *unreachableStore) Exists(ctx context.Context, p string) (bool, error) {
	u.calls.Add(1)
	select {
	case <-ctx.Done():
		return false, &remotedomain.TransferError{Op: "exists", Path: p, Err: ctx.Err()}
	case <-time.After(5 * time.Second):
		return false, &remotedomain.TransferError{Op: "exists", Path: p, Err: context.DeadlineExceeded}
	}
}

func TestStartLoopDoesNotWaitOnStore(t *testing.T) {
	store := &unreachableStore{}
	h := newHarness(t, testConfig(), func(p *Params) {
		store.Client = p.Store
		p.Store = store
	})

	app := fx.New(
		fx.NopLogger,
		fx.Supply(config.Config{}, h.sched, zap.NewNop()),
		fx.Provide(func() remotedomain.Client { return store }),
		fx.Invoke(StartLoop),
	)
	require.NoError(t, app.Err())

	startCtx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	started := time.Now()
	require.NoError(t, app.Start(startCtx))
	assert.Less(t, time.Since(started), 500*time.Millisecond)

	require.Eventually(t, func() bool { return store.calls.Load() > 0 }, time.Second, 5*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, app.Stop(stopCtx))
}
