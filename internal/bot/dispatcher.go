package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ashureev/groupmind/internal/domain"
)

// ErrDispatcherClosed is returned by Submit after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

const (
	defaultIdleTimeout = 10 * time.Minute
	defaultBacklogWarn = 64
)

// Handler processes one update.
type Handler interface {
	Route(ctx context.Context, tr Transport, u domain.Update) error
}

type job struct {
	tr     Transport
	update domain.Update
}

type worker struct {
	queue  []job // guarded by Dispatcher.mu
	warned bool  // guarded by Dispatcher.mu
	wake   chan struct{}
}

// Dispatcher runs one FIFO worker per chat, so updates of a chat are handled
// in arrival order while different chats proceed concurrently. Queues are
// unbounded: Submit never waits on a busy chat. Idle workers exit and are
// recreated on demand.
type Dispatcher struct {
	handler     Handler
	backlogWarn int
	idleTimeout time.Duration
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
}

// NewDispatcher creates a dispatcher. A warning is logged when a chat's
// backlog grows past backlogWarn.
func NewDispatcher(h Handler, backlogWarn int, logger *slog.Logger) *Dispatcher {
	if backlogWarn <= 0 {
		backlogWarn = defaultBacklogWarn
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		handler:     h,
		backlogWarn: backlogWarn,
		idleTimeout: defaultIdleTimeout,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		workers:     make(map[string]*worker),
	}
}

// Submit appends u to its chat's queue and returns without waiting for the
// chat's worker.
func (d *Dispatcher) Submit(ctx context.Context, tr Transport, u domain.Update) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("submit update for chat %s: %w", u.ChatID, err)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	w, ok := d.workers[u.ChatID]
	if !ok {
		w = &worker{wake: make(chan struct{}, 1)}
		d.workers[u.ChatID] = w
		d.wg.Add(1)
		go d.run(u.ChatID, w)
	}
	w.queue = append(w.queue, job{tr: tr, update: u})
	backlog := len(w.queue)
	warn := backlog > d.backlogWarn && !w.warned
	if warn {
		w.warned = true
	} else if backlog <= d.backlogWarn {
		w.warned = false
	}
	d.mu.Unlock()

	if warn {
		d.logger.Warn("chat backlog is growing", "chat_id", u.ChatID, "backlog", backlog)
	}

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// next pops the oldest queued job of w.
func (d *Dispatcher) next(w *worker) (job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(w.queue) == 0 {
		return job{}, false
	}
	j := w.queue[0]
	w.queue[0] = job{}
	w.queue = w.queue[1:]
	return j, true
}

func (d *Dispatcher) run(chatID string, w *worker) {
	defer d.wg.Done()

	idle := time.NewTimer(d.idleTimeout)
	defer idle.Stop()

	for {
		if d.ctx.Err() != nil {
			return
		}
		if j, ok := d.next(w); ok {
			d.handle(j)
			idle.Reset(d.idleTimeout)
			continue
		}

		select {
		case <-w.wake:
		case <-idle.C:
			d.mu.Lock()
			if len(w.queue) == 0 {
				delete(d.workers, chatID)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			idle.Reset(d.idleTimeout)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) handle(j job) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("panic while handling update",
				"chat_id", j.update.ChatID,
				"panic", rec,
				"stack", string(debug.Stack()))
		}
	}()

	if err := d.handler.Route(d.ctx, j.tr, j.update); err != nil {
		d.logger.Error("failed to handle update", "chat_id", j.update.ChatID, "error", err)
	}
}

// Close stops accepting updates, cancels in-flight handlers and waits for
// all workers to exit. Queued updates are dropped.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}
