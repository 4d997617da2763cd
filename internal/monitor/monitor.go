// Package monitor runs the poll cycle: fetch the listings page, diff it
// against the seen-set and announce every new item through the dispatch queue.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"sleepwatch/internal/dispatch"
	"sleepwatch/internal/domain"
	"sleepwatch/internal/notifier"
	"sleepwatch/internal/scraper"
	"sleepwatch/internal/storage"
)

// ErrCycleInProgress is returned when a cycle starts while the previous one is still diffing.
var ErrCycleInProgress = errors.New("cycle already in progress")

// Options tune the persistence step.
type Options struct {
	// InsertAttempts is how many times Insert is tried after a delivered notification.
	InsertAttempts int
	// InsertBackoff is multiplied by the attempt number between tries.
	InsertBackoff time.Duration
	// InsertTimeout bounds all insert attempts for one item, including during shutdown.
	InsertTimeout time.Duration
}

const defaultInsertTimeout = 10 * time.Second

// Monitor owns one poll cycle and the periodic trigger around it.
type Monitor struct {
	scraper  scraper.Scraper
	store    storage.SeenStore
	notifier notifier.Notifier
	queue    *dispatch.Queue
	opts     Options
	log      logrus.FieldLogger

	running atomic.Bool

	mu      sync.Mutex
	pending map[int64]struct{}
	wg      sync.WaitGroup
}

// Cycle summarises one RunCycle call.
type Cycle struct {
	Fetched int
	New     int
	// Tasks holds one task per submitted item, in page order.
	Tasks []*dispatch.Task
}

// New creates a Monitor. The store must already be open.
func New(s scraper.Scraper, store storage.SeenStore, n notifier.Notifier, q *dispatch.Queue, opts Options, logger logrus.FieldLogger) *Monitor {
	if opts.InsertAttempts < 1 {
		opts.InsertAttempts = 1
	}
	if opts.InsertTimeout <= 0 {
		opts.InsertTimeout = defaultInsertTimeout
	}
	return &Monitor{
		scraper:  s,
		store:    store,
		notifier: n,
		queue:    q,
		opts:     opts,
		log:      logger.WithField("component", "monitor"),
		pending:  make(map[int64]struct{}),
	}
}

// Start runs a cycle immediately and then every interval until ctx is done.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	m.log.WithField("interval", interval.String()).Info("Monitor started")

	// First cycle runs right away, not after the first interval.
	m.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("Monitor stopped")
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	_, err := m.RunCycle(ctx)
	switch {
	case err == nil, errors.Is(err, ErrCycleInProgress), errors.Is(err, context.Canceled):
	case errors.Is(err, scraper.ErrFetchFailed):
		m.log.WithError(err).Error("Fetch failed, cycle aborted")
	case errors.Is(err, storage.ErrStore):
		m.log.WithError(err).Error("Seen-set lookup failed, cycle aborted")
	default:
		m.log.WithError(err).Error("Cycle failed")
	}
}

// RunCycle fetches, diffs and submits one notification task per new item.
// It returns once every task is submitted; delivery continues in the queue.
func (m *Monitor) RunCycle(ctx context.Context) (Cycle, error) {
	if !m.running.CompareAndSwap(false, true) {
		m.log.Warn("Previous cycle still running, skipping")
		return Cycle{}, ErrCycleInProgress
	}
	defer m.running.Store(false)

	started := time.Now()

	// 1. Fetch the current page.
	items, err := m.scraper.FetchItems(ctx)
	if err != nil {
		return Cycle{}, fmt.Errorf("fetch items: %w", err)
	}
	cycle := Cycle{Fetched: len(items)}

	// 2. Diff against the seen-set in one batch.
	seen, err := m.store.LookupMany(ctx, domain.IDs(items))
	if err != nil {
		return cycle, fmt.Errorf("lookup seen items: %w", err)
	}

	fresh := make([]domain.Item, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ID]; !ok {
			fresh = append(fresh, item)
		}
	}
	cycle.New = len(fresh)

	// 3. Queue one notification per new item, in page order.
	for _, item := range fresh {
		if !m.claim(item.ID) {
			m.log.WithField("item_id", item.ID).Debug("Item already queued by an earlier cycle")
			continue
		}
		cycle.Tasks = append(cycle.Tasks, m.submit(item))
	}

	m.log.WithFields(logrus.Fields{
		"count":    cycle.Fetched,
		"new":      cycle.New,
		"enqueued": len(cycle.Tasks),
		"queued":   m.queue.Len(),
		"took":     time.Since(started).Round(time.Millisecond).String(),
	}).Info("Cycle complete")
	return cycle, nil
}

// claim marks id as in flight. It reports false if a task for id is already pending.
func (m *Monitor) claim(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[id]; ok {
		return false
	}
	m.pending[id] = struct{}{}
	return true
}

func (m *Monitor) release(id int64) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

func (m *Monitor) submit(item domain.Item) *dispatch.Task {
	v := domain.Evaluate(item)
	n := notifier.Build(item, v)
	log := m.log.WithFields(logrus.Fields{
		"item_id":  item.ID,
		"profit":   v.Profit,
		"priority": v.Priority.String(),
	})

	task := m.queue.Submit(fmt.Sprintf("notify-%d", item.ID), func(taskCtx context.Context) error {
		if err := m.notifier.Notify(taskCtx, n); err != nil {
			// Not recorded, so the next cycle sees it as new again.
			return err
		}
		log.Info("Notification sent")
		return m.persist(taskCtx, item)
	})

	// Every outcome is consumed here so no failure goes unobserved.
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		<-task.Done()
		m.release(item.ID)

		err := task.Err()
		switch {
		case err == nil:
			log.Debug("Item recorded")
		case errors.Is(err, notifier.ErrDeliveryFailed):
			log.WithError(err).Error("Notification failed, item will be retried next cycle")
		case errors.Is(err, storage.ErrStore):
			log.WithError(err).Error("Notification sent but item not recorded, it may be sent again")
		default:
			log.WithError(err).Error("Notification task failed")
		}
	}()

	return task
}

// persist records item, retrying transient store failures.
// The notification is already out, so queue shutdown must not cut the insert
// short: it runs detached from taskCtx and is bounded by InsertTimeout instead.
func (m *Monitor) persist(taskCtx context.Context, item domain.Item) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(taskCtx), m.opts.InsertTimeout)
	defer cancel()

	var err error
	for attempt := 1; attempt <= m.opts.InsertAttempts; attempt++ {
		if err = m.store.Insert(ctx, item); err == nil {
			return nil
		}
		if attempt == m.opts.InsertAttempts {
			break
		}
		m.log.WithError(err).WithFields(logrus.Fields{
			"item_id": item.ID,
			"attempt": attempt,
		}).Warn("Insert failed, retrying")

		select {
		case <-time.After(time.Duration(attempt) * m.opts.InsertBackoff):
		case <-ctx.Done():
			return fmt.Errorf("%w: insert item %d: %v", storage.ErrStore, item.ID, ctx.Err())
		}
	}
	return err
}

// Wait blocks until every submitted task outcome has been consumed.
func (m *Monitor) Wait() {
	m.wg.Wait()
}
