package download

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"ReleaseKit/logger"
)

// ErrPoolStopped is returned by Enqueue after Stop.
var ErrPoolStopped = errors.New("worker pool stopped")

// Queue accepts download ids for background processing.
type Queue interface {
	Enqueue(ctx context.Context, downloadID int64) error
}

// JobFunc processes one download.
type JobFunc func(ctx context.Context, downloadID int64) error

// Pool 下载任务工作池
type Pool struct {
	jobs        chan int64
	workerCount int
	run         JobFunc
	wg          sync.WaitGroup
	stopChan    chan struct{}
	stopOnce    sync.Once
}

// NewPool creates a pool with a buffered queue. Call Start to launch workers.
func NewPool(workerCount, queueSize int, run JobFunc) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{
		jobs:        make(chan int64, queueSize),
		workerCount: workerCount,
		run:         run,
		stopChan:    make(chan struct{}),
	}
}

// Start 启动工作协程池
func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Info("download workers started",
		logger.Int("workers", p.workerCount),
		logger.Int("queueSize", cap(p.jobs)))
}

// Enqueue never waits for the job itself. It only blocks while the buffer is
// full, bounded by ctx.
func (p *Pool) Enqueue(ctx context.Context, downloadID int64) error {
	select {
	case <-p.stopChan:
		return ErrPoolStopped
	default:
	}
	select {
	case p.jobs <- downloadID:
		return nil
	case <-p.stopChan:
		return ErrPoolStopped
	case <-ctx.Done():
		return fmt.Errorf("enqueue download %d: %w", downloadID, ctx.Err())
	}
}

// Stop 停止接收任务并等待正在运行的任务结束。队列中未开始的任务保持 PENDING。
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.wg.Wait()
}

func (p *Pool) worker(n int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopChan:
			return
		default:
		}
		select {
		case id := <-p.jobs:
			p.execute(n, id)
		case <-p.stopChan:
			return
		}
	}
}

func (p *Pool) execute(worker int, downloadID int64) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("download job panicked",
				logger.Int("worker", worker),
				logger.Int64("downloadId", downloadID),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
		}
	}()

	if err := p.run(context.Background(), downloadID); err != nil {
		logger.Error("download job failed",
			logger.Int("worker", worker),
			logger.Int64("downloadId", downloadID),
			logger.ErrorField(err))
	}
}
