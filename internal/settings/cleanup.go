package settings

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/synctv-org/synctv-core/internal/logging"
)

// ChatPruner deletes chat history older than cutoff, returning the number of
// rows removed. The chat persistence layer itself is out of this
// component's scope; this is the one-method surface the cleanup loop needs.
type ChatPruner interface {
	PruneChatBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RunChatCleanupLoop periodically deletes chat history older than
// vars.ChatRetentionMinutes, re-reading the setting on every tick so an
// operator's hot-reload takes effect without a restart.
func RunChatCleanupLoop(ctx context.Context, vars *Vars, pruner ChatPruner, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			retention := time.Duration(vars.ChatRetentionMinutes.Get()) * time.Minute
			cutoff := time.Now().Add(-retention)
			n, err := pruner.PruneChatBefore(ctx, cutoff)
			if err != nil {
				logging.Warn(ctx, "chat cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logging.Info(ctx, "pruned expired chat history", zap.Int64("rows_deleted", n))
			}
		}
	}
}
