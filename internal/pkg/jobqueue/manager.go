package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MemberVault/internal/pkg/billing"
	"github.com/ManuelReschke/MemberVault/internal/pkg/metrics"
)

const depthInterval = 15 * time.Second

// Manager manages the global job queue and background tasks
type Manager struct {
	queue           *Queue
	catalogInterval time.Duration
	catalogTicker   *time.Ticker
	depthTicker     *time.Ticker
	stopCh          chan struct{}
	wg              sync.WaitGroup
	mu              sync.Mutex
	running         bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// InitManager creates the global manager once. Later calls return the first
// instance.
func InitManager(queue *Queue, catalogInterval time.Duration) *Manager {
	managerOnce.Do(func() {
		globalManager = NewManager(queue, catalogInterval)
	})
	return globalManager
}

// GetManager returns the global job queue manager, nil before InitManager.
func GetManager() *Manager {
	return globalManager
}

// NewManager creates a manager around queue. A non-positive catalogInterval
// disables the periodic catalog refresh.
func NewManager(queue *Queue, catalogInterval time.Duration) *Manager {
	return &Manager{
		queue:           queue,
		catalogInterval: catalogInterval,
		stopCh:          make(chan struct{}),
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	if m.catalogInterval > 0 {
		m.catalogTicker = time.NewTicker(m.catalogInterval)
		m.wg.Add(1)
		go m.catalogWorker()
	}

	m.depthTicker = time.NewTicker(depthInterval)
	m.wg.Add(1)
	go m.depthWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.catalogTicker != nil {
		m.catalogTicker.Stop()
	}
	if m.depthTicker != nil {
		m.depthTicker.Stop()
	}

	close(m.stopCh)
	m.running = false

	m.wg.Wait()
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// catalogWorker periodically enqueues a forced catalog sync so the mirror
// converges even when webhook deliveries are lost.
func (m *Manager) catalogWorker() {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started catalog refresh worker (interval: %s)", m.catalogInterval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Catalog refresh worker stopping")
			return
		case <-m.catalogTicker.C:
			if err := m.EnqueueCatalogRefresh(context.Background()); err != nil {
				log.Errorf("[JobQueue Manager] Error enqueuing catalog refresh: %v", err)
			}
		}
	}
}

// EnqueueCatalogRefresh queues one forced catalog sync.
func (m *Manager) EnqueueCatalogRefresh(ctx context.Context) error {
	_, err := m.queue.EnqueueAction(ctx, 0, billing.EventAction{Kind: billing.ActionSyncCatalog, EventType: "scheduled.catalog_refresh"})
	return err
}

// depthWorker publishes list lengths to the queue depth gauge.
func (m *Manager) depthWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.depthTicker.C:
			m.recordDepth(context.Background())
		}
	}
}

func (m *Manager) recordDepth(ctx context.Context) {
	if pending, err := m.queue.GetQueueSize(ctx); err == nil {
		metrics.QueueDepth.WithLabelValues("pending").Set(float64(pending))
	}
	if processing, err := m.queue.GetProcessingSize(ctx); err == nil {
		metrics.QueueDepth.WithLabelValues("processing").Set(float64(processing))
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
