package workerpool

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rajeee/chatdf/internal/filecache"
	"github.com/rajeee/chatdf/internal/metrics"
)

// Config configures a Pool. Field names mirror §6 Environment verbatim.
type Config struct {
	Size             int
	MemoryLimitMB    int
	TaskTimeout      time.Duration
	MaxTasksPerSlot  int
	AllowPrivateURLs bool
}

// DefaultConfig matches §6's defaults.
func DefaultConfig() Config {
	return Config{
		Size:            4,
		MemoryLimitMB:   512,
		TaskTimeout:     300 * time.Second,
		MaxTasksPerSlot: 50,
	}
}

type slot struct {
	mu      sync.Mutex
	sandbox Sandbox
}

// Pool is the isolated worker pool of §4.2: a fixed number of sandboxed
// slots, each recycled after MaxTasksPerSlot tasks, exposing validate_url,
// get_schema, and run_query with a hard per-task timeout.
type Pool struct {
	cfg              Config
	slots            []*slot
	dispatch         chan func(Sandbox)
	wg               sync.WaitGroup
	shutdown         chan struct{}
	shutdownOnce     sync.Once
	fileCache        *filecache.Cache
	engine           SQLEngine
	httpClient       *http.Client
	logger           *logrus.Entry
	allowPrivateURLs bool
	metrics          *metrics.Metrics
}

// New builds and starts a Pool of cfg.Size sandboxed worker slots. m may be
// nil in tests.
func New(cfg Config, fileCache *filecache.Cache, engine SQLEngine, m *metrics.Metrics, logger *logrus.Entry) (*Pool, error) {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	p := &Pool{
		cfg:              cfg,
		dispatch:         make(chan func(Sandbox)),
		shutdown:         make(chan struct{}),
		fileCache:        fileCache,
		engine:           engine,
		httpClient:       &http.Client{Timeout: 30 * time.Second},
		logger:           logger,
		allowPrivateURLs: cfg.AllowPrivateURLs,
		metrics:          m,
	}

	for i := 0; i < cfg.Size; i++ {
		s := &slot{sandbox: p.newSandbox()}
		p.slots = append(p.slots, s)
		p.wg.Add(1)
		go p.run(s)
	}
	return p, nil
}

func (p *Pool) newSandbox() Sandbox {
	return NewLocalSandbox()
}

// run is one worker slot's dispatch loop: pull a task, run it inside the
// slot's sandbox, recycle the sandbox after MaxTasksPerSlot tasks.
func (p *Pool) run(s *slot) {
	defer p.wg.Done()
	for {
		select {
		case <-p.shutdown:
			_ = s.sandbox.Stop(context.Background())
			return
		case task := <-p.dispatch:
			s.mu.Lock()
			task(s.sandbox)
			if p.cfg.MaxTasksPerSlot > 0 && s.sandbox.TasksServed() >= p.cfg.MaxTasksPerSlot {
				_ = s.sandbox.Stop(context.Background())
				s.sandbox = p.newSandbox()
			}
			s.mu.Unlock()
		}
	}
}

// submit runs fn against the next available worker slot, bounding it by
// TaskTimeout. Callers that hit the deadline receive a timeout-class
// error; the task itself keeps running in the background until the
// sandbox next becomes free (it cannot be forcibly killed mid-computation
// for the in-process LocalSandbox, matching a cooperative-cancellation
// engine). capability labels the task duration metric.
func (p *Pool) submit(ctx context.Context, capability string, fn func(ctx context.Context) error) error {
	taskCtx, cancel := context.WithTimeout(ctx, p.cfg.TaskTimeout)
	defer cancel()

	done := make(chan error, 1)
	select {
	case p.dispatch <- func(sandbox Sandbox) {
		if p.metrics != nil {
			p.metrics.WorkerTasksActive.Inc()
		}
		start := time.Now()
		done <- sandbox.Execute(taskCtx, fn)
		if p.metrics != nil {
			p.metrics.WorkerTaskDuration.WithLabelValues(capability).Observe(time.Since(start).Seconds())
			p.metrics.WorkerTasksActive.Dec()
		}
	}:
	case <-p.shutdown:
		return fmt.Errorf("worker pool is shutting down")
	case <-taskCtx.Done():
		return taskCtx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-taskCtx.Done():
		return taskCtx.Err()
	}
}

// ValidateURL is the exported validate_url capability.
func (p *Pool) ValidateURL(ctx context.Context, url string) ValidateURLResult {
	var result ValidateURLResult
	err := p.submit(ctx, "validate_url", func(ctx context.Context) error {
		result = p.validateURL(ctx, url)
		return nil
	})
	if err != nil {
		return ValidateURLResult{Valid: false, Err: timeoutOrInternal(err)}
	}
	return result
}

// GetSchema is the exported get_schema capability.
func (p *Pool) GetSchema(ctx context.Context, url string) SchemaResult {
	var result SchemaResult
	err := p.submit(ctx, "get_schema", func(ctx context.Context) error {
		result = p.getSchema(ctx, url)
		return nil
	})
	if err != nil {
		return SchemaResult{Err: timeoutOrInternal(err)}
	}
	return result
}

// RunQuery is the exported run_query capability.
func (p *Pool) RunQuery(ctx context.Context, sqlText string, datasets []Dataset) QueryResult {
	var result QueryResult
	err := p.submit(ctx, "run_query", func(ctx context.Context) error {
		result = p.runQuery(ctx, sqlText, datasets)
		return nil
	})
	if err != nil {
		return QueryResult{Err: timeoutOrInternal(err)}
	}
	return result
}

func timeoutOrInternal(err error) *TaskError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TaskError{ErrorType: ErrorTypeTimeout, Message: "worker task exceeded its time budget"}
	}
	return &TaskError{ErrorType: ErrorTypeInternal, Message: err.Error()}
}

// Shutdown signals every worker slot to stop and waits, bounded by ctx, for
// their goroutines to exit. A task already running is not interrupted; its
// slot exits once the task returns. A caller still waiting for a free slot
// gets an internal-class error; a caller whose task is running waits for
// its result or its own deadline.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() { close(p.shutdown) })
	joined := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
