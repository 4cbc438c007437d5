package metrics

import (
	"context"
	"time"

	"github.com/cuemby/bastion/internal/model"
)

// StoreStats is the subset of internal/store.Store the collector polls.
// Defined as an interface so tests can supply a fake without a real
// database.
type StoreStats interface {
	CountActiveJobs(ctx context.Context) (int64, error)
	CountRunsByStatus(ctx context.Context) (map[model.RunStatus]int64, error)
	CountQueuedDeleteTasks(ctx context.Context) (int64, error)
	CountQueuedNotifications(ctx context.Context) (int64, error)
	ListAgents(ctx context.Context) ([]model.Agent, error)
}

// AgentConnections is the subset of internal/agentmgr.Manager the collector
// polls for live WebSocket connection counts.
type AgentConnections interface {
	ConnectedAgentIDs() []string
}

// Collector polls the Hub's store and agent registry on a fixed interval
// and republishes what it finds as Prometheus gauges, the same
// ticker-driven poll-and-set shape as the teacher's orchestrator collector,
// generalized from cluster/Raft state to jobs, runs, queues and agent
// connections.
type Collector struct {
	store  StoreStats
	agents AgentConnections
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(store StoreStats, agents AgentConnections) *Collector {
	return &Collector{
		store:  store,
		agents: agents,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics in the background.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.collectJobMetrics(ctx)
	c.collectRunMetrics(ctx)
	c.collectQueueMetrics(ctx)
	c.collectAgentMetrics(ctx)
}

func (c *Collector) collectJobMetrics(ctx context.Context) {
	n, err := c.store.CountActiveJobs(ctx)
	if err != nil {
		return
	}
	JobsActive.Set(float64(n))
}

func (c *Collector) collectRunMetrics(ctx context.Context) {
	counts, err := c.store.CountRunsByStatus(ctx)
	if err != nil {
		return
	}
	for _, status := range []model.RunStatus{
		model.RunQueued, model.RunRunning, model.RunSuccess,
		model.RunFailed, model.RunRejected, model.RunCanceled,
	} {
		RunsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (c *Collector) collectQueueMetrics(ctx context.Context) {
	if n, err := c.store.CountQueuedDeleteTasks(ctx); err == nil {
		SnapshotDeleteQueueDepth.Set(float64(n))
	}
	if n, err := c.store.CountQueuedNotifications(ctx); err == nil {
		NotificationQueueDepth.Set(float64(n))
	}
}

func (c *Collector) collectAgentMetrics(ctx context.Context) {
	agents, err := c.store.ListAgents(ctx)
	if err == nil {
		AgentsEnrolled.Set(float64(len(agents)))
	}
	if c.agents != nil {
		AgentsConnected.Set(float64(len(c.agents.ConnectedAgentIDs())))
	}
}
