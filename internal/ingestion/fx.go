package ingestion

import (
	"context"

	"github.com/smallbiznis/nfsync/internal/config"
	remotedomain "github.com/smallbiznis/nfsync/internal/remotestore/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("ingestion",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
)

// LoopModule starts the periodic loop with the application.
var LoopModule = fx.Module("ingestion.loop",
	fx.Invoke(StartLoop),
)

func StartLoop(lc fx.Lifecycle, cfg config.Config, sched *Scheduler, store remotedomain.Client, log *zap.Logger) {
	var (
		cancel context.CancelFunc
		done   = make(chan struct{})
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, stop := context.WithCancel(context.Background())
			cancel = stop

			if watcher, ok := store.(remotedomain.Watcher); ok && cfg.RemoteStore.LocalWatch {
				go func() {
					if err := watcher.Watch(ctx, sched.Config().SourceDir, sched.Nudge); err != nil {
						log.Warn("ingestion source watch stopped", zap.Error(err))
					}
				}()
			}

			go func() {
				defer close(done)
				sched.Bootstrap(ctx)
				sched.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}
