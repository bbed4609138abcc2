package settings

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/synctv-org/synctv-core/internal/logging"
)

// Listener drives hot reload: a dedicated Postgres connection LISTENs on the
// settings_changed channel, and on each NOTIFY reloads just that key from
// the DB and fans out to Storage's registered listeners — matching
// settings.rs's reconnect-with-backoff LISTEN task.
type Listener struct {
	dsn     string
	storage *Storage

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewListener(dsn string, storage *Storage) *Listener {
	return &Listener{dsn: dsn, storage: storage, stopCh: make(chan struct{})}
}

// Start begins the LISTEN loop in the background.
func (l *Listener) Start() {
	l.wg.Add(1)
	go l.run()
}

func (l *Listener) run() {
	defer l.wg.Done()
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		if err := l.listenOnce(); err != nil {
			logging.Warn(context.Background(), "postgres LISTEN connection lost, reconnecting", zap.Error(err))
		}

		select {
		case <-l.stopCh:
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (l *Listener) listenOnce() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel this connection's context as soon as Shutdown is called, so a
	// blocking WaitForNotification returns promptly instead of waiting for
	// the next notification or a connection error.
	go func() {
		select {
		case <-l.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "LISTEN settings_changed"); err != nil {
		return err
	}
	logging.Info(ctx, "postgres LISTEN started for settings_changed channel")

	for {
		select {
		case <-l.stopCh:
			return nil
		default:
		}

		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		key := notification.Payload
		if _, _, err := l.storage.reloadFromDB(ctx, key); err != nil {
			logging.Error(ctx, "failed to reload setting after notify", zap.Error(err), zap.String("key", key))
			continue
		}
		if raw, ok := l.storage.GetRaw(key); ok {
			l.storage.notifyListeners(key, raw)
		}
	}
}

// Shutdown stops the LISTEN loop.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
