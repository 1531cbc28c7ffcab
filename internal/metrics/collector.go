package metrics

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	bolt "go.etcd.io/bbolt"
)

// JobCounter reports how many jobs are in each status
type JobCounter interface {
	StatusCounts(ctx context.Context) (map[string]int64, error)
}

// BatchCounter reports the history size
type BatchCounter interface {
	Count(ctx context.Context) (int, error)
}

var (
	bucketMetrics = []byte("metrics")
	countersKey   = []byte("counters")
)

// storedCounter is one persisted counter series
type storedCounter struct {
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// Collector keeps counters across restarts and refreshes the gauges
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	jobs          JobCounter
	batches       BatchCounter
	storagePath   string
	flushInterval time.Duration
	startTime     time.Time

	vecs     map[string]*prometheus.CounterVec
	counters map[string]prometheus.Counter

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCollector creates a collector and restores persisted counters
func NewCollector(db *bolt.DB, m *Metrics, jobs JobCounter, batches BatchCounter, storagePath string, flushInterval time.Duration) (*Collector, error) {
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMetrics)
		return err
	})
	if err != nil {
		return nil, err
	}

	c := &Collector{
		db:            db,
		metrics:       m,
		jobs:          jobs,
		batches:       batches,
		storagePath:   storagePath,
		flushInterval: flushInterval,
		startTime:     time.Now(),
		vecs: map[string]*prometheus.CounterVec{
			"gridline_extraction_runs_total":    m.ExtractionRunsTotal,
			"gridline_llm_calls_total":          m.LLMCallsTotal,
			"gridline_llm_errors_total":         m.LLMErrorsTotal,
			"gridline_ratelimit_exceeded_total": m.RateLimitExceededTotal,
		},
		counters: map[string]prometheus.Counter{
			"gridline_projects_extracted_total": m.ProjectsExtractedTotal,
		},
		stopCh: make(chan struct{}),
	}

	if err := c.loadCounters(); err != nil {
		return nil, err
	}

	return c, nil
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.collectSystemMetrics(ctx)

	c.wg.Add(2)
	go c.persistLoop(ctx)
	go c.updateSystemMetrics(ctx)
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return c.persistCounters()
}

func (c *Collector) loadCounters() error {
	return c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMetrics).Get(countersKey)
		if data == nil {
			return nil
		}

		var stored map[string][]storedCounter
		if err := json.Unmarshal(data, &stored); err != nil {
			return nil // Skip invalid data
		}

		for name, series := range stored {
			for _, s := range series {
				if vec, ok := c.vecs[name]; ok {
					if counter, err := vec.GetMetricWith(s.Labels); err == nil {
						counter.Add(s.Value)
					}
				} else if counter, ok := c.counters[name]; ok {
					counter.Add(s.Value)
				}
			}
		}
		return nil
	})
}

// snapshot reads the current values of the persisted counters
func (c *Collector) snapshot() (map[string][]storedCounter, error) {
	families, err := c.metrics.Registry().Gather()
	if err != nil {
		return nil, err
	}

	out := make(map[string][]storedCounter)
	for _, mf := range families {
		name := mf.GetName()
		_, isVec := c.vecs[name]
		_, isCounter := c.counters[name]
		if !isVec && !isCounter {
			continue
		}
		for _, metric := range mf.GetMetric() {
			s := storedCounter{Value: metric.GetCounter().GetValue()}
			if len(metric.GetLabel()) > 0 {
				s.Labels = make(map[string]string, len(metric.GetLabel()))
				for _, lp := range metric.GetLabel() {
					s.Labels[lp.GetName()] = lp.GetValue()
				}
			}
			out[name] = append(out[name], s)
		}
	}
	return out, nil
}

func (c *Collector) persistCounters() error {
	stored, err := c.snapshot()
	if err != nil {
		return err
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetrics).Put(countersKey, data)
	})
}

func (c *Collector) persistLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.persistCounters()
		}
	}
}

func (c *Collector) updateSystemMetrics(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectSystemMetrics(ctx)
		}
	}
}

// collectSystemMetrics refreshes uptime, runtime, storage, job and history gauges
func (c *Collector) collectSystemMetrics(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.jobs != nil {
		if counts, err := c.jobs.StatusCounts(ctx); err == nil {
			for status, n := range counts {
				c.metrics.Jobs.WithLabelValues(status).Set(float64(n))
			}
		}
	}

	if c.batches != nil {
		if n, err := c.batches.Count(ctx); err == nil {
			c.metrics.HistoryBatches.Set(float64(n))
		}
	}
}
