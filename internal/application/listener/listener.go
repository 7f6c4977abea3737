// Package listener supervises the SignalR session and the background tasks
// around it for the lifetime of the process.
package listener

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bowatch/bowatch/internal/domain/credential"
	"github.com/bowatch/bowatch/internal/infrastructure/signalr"
	"github.com/bowatch/bowatch/internal/shared/goroutine"
	"github.com/bowatch/bowatch/internal/shared/logger"
)

const defaultDrainTimeout = 10 * time.Second

// Connection is the SignalR session manager.
type Connection interface {
	Connect(ctx context.Context) error
	Disconnect()
	Restart(ctx context.Context) bool
	State() signalr.ConnectionState
}

// Task is a long-running supervisor that returns when ctx is done.
type Task interface {
	Run(ctx context.Context) error
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Run(ctx context.Context) error { return f(ctx) }

// Scheduler runs periodic jobs between Start and Stop.
type Scheduler interface {
	Start()
	Stop() error
}

// Drainer finishes in-flight deliveries.
type Drainer interface {
	Wait(ctx context.Context) error
}

// CredentialReader exposes the current credentials.
type CredentialReader interface {
	Get() credential.Credentials
}

type Deps struct {
	Connection  Connection
	Credentials CredentialReader
	Tasks       map[string]Task
	Scheduler   Scheduler
	Drainer     Drainer
}

type Listener struct {
	deps         Deps
	logger       logger.Interface
	drainTimeout time.Duration

	mu     sync.Mutex
	runCtx context.Context
}

func New(deps Deps, log logger.Interface) *Listener {
	return &Listener{
		deps:         deps,
		logger:       log.Named("listener"),
		drainTimeout: defaultDrainTimeout,
	}
}

// Run opens the session, starts every task and blocks until ctx is done or a
// task fails. It then disconnects and drains pending deliveries.
func (l *Listener) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	l.mu.Lock()
	l.runCtx = gctx
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.runCtx = nil
		l.mu.Unlock()
	}()

	l.startSession(gctx)

	for name, task := range l.deps.Tasks {
		name, task := name, task
		g.Go(func() error {
			l.logger.Debugw("task started", "task", name)
			err := task.Run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				l.logger.Errorw("task stopped with error", "task", name, "error", err)
				return err
			}
			l.logger.Debugw("task stopped", "task", name)
			return nil
		})
	}

	if l.deps.Scheduler != nil {
		l.deps.Scheduler.Start()
	}

	l.logger.Infow("listener running", "tasks", len(l.deps.Tasks))
	<-gctx.Done()

	l.shutdown()
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startSession connects when credentials allow it. A failed first connect
// falls into the reconnect loop in the background.
func (l *Listener) startSession(ctx context.Context) {
	if l.deps.Credentials != nil && !l.deps.Credentials.Get().Ready() {
		l.logger.Warnw("hub access token not set, waiting for credentials")
		return
	}

	if err := l.deps.Connection.Connect(ctx); err != nil {
		l.logger.Warnw("initial connect failed, reconnecting", "error", err)
		goroutine.SafeGo(l.logger, "initial-reconnect", func() {
			l.deps.Connection.Restart(ctx)
		})
	}
}

func (l *Listener) shutdown() {
	l.logger.Infow("listener shutting down")

	l.deps.Connection.Disconnect()

	if l.deps.Scheduler != nil {
		if err := l.deps.Scheduler.Stop(); err != nil {
			l.logger.Warnw("scheduler stop failed", "error", err)
		}
	}

	if l.deps.Drainer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), l.drainTimeout)
		defer cancel()
		if err := l.deps.Drainer.Wait(ctx); err != nil {
			l.logger.Warnw("pending deliveries did not finish", "error", err)
		}
	}
}

// OnCredentialChange restarts the session when a field it depends on
// changed. This is also the way out of the Failed state.
func (l *Listener) OnCredentialChange(_ context.Context, current credential.Credentials, changed []string) error {
	if !credential.AffectsSession(changed) {
		return nil
	}
	if !current.Ready() {
		l.logger.Warnw("credentials changed but hub access token is empty", "changed", changed)
		return nil
	}
	if !l.Reconnect() {
		l.logger.Debugw("credentials changed while listener is not running", "changed", changed)
		return nil
	}
	l.logger.Infow("credentials changed, restarting session", "changed", changed)
	return nil
}

// Reconnect resets the reconnect budget and reconnects in the background. It
// reports false when the listener is not running.
func (l *Listener) Reconnect() bool {
	l.mu.Lock()
	ctx := l.runCtx
	l.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return false
	}

	goroutine.SafeGo(l.logger, "session-restart", func() {
		l.deps.Connection.Restart(ctx)
	})
	return true
}

func (l *Listener) State() signalr.ConnectionState {
	return l.deps.Connection.State()
}
