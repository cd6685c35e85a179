/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/carverauto/upnpradar/pkg/logger"
)

const workQueueCapacity = 256

// workItem is one unit of coordinator work. Errors are logged, never
// fatal to the worker.
type workItem struct {
	name string
	run  func(ctx context.Context) error
}

// workerPool drains a shared FIFO queue with a fixed number of
// goroutines. A work item failure is contained to that item.
type workerPool struct {
	queue  chan workItem
	logger logger.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newWorkerPool(log logger.Logger) *workerPool {
	return &workerPool{
		queue:  make(chan workItem, workQueueCapacity),
		logger: log.WithComponent("workers"),
	}
}

func (p *workerPool) start(ctx context.Context, workers int) {
	for i := 0; i < workers; i++ {
		p.wg.Add(1)

		go func(id int) {
			defer p.wg.Done()
			p.run(ctx, id)
		}(i)
	}
}

func (p *workerPool) run(ctx context.Context, id int) {
	for item := range p.queue {
		metricQueueDepth.Dec()

		if ctx.Err() != nil {
			continue
		}

		if err := p.runItem(ctx, item); err != nil {
			metricWorkerErrors.Inc()
			p.logger.Warn().Err(err).
				Int("worker", id).
				Str("task", item.name).
				Msg("Work item failed")
		}
	}
}

// runItem contains a panicking work item so the worker keeps draining
// the queue.
func (p *workerPool) runItem(ctx context.Context, item workItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("work item panic: %v", r)
		}
	}()

	return item.run(ctx)
}

// submit queues a work item. A full queue drops the item with a warning
// rather than blocking the producer (usually the NOTIFY monitor).
func (p *workerPool) submit(name string, run func(ctx context.Context) error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}

	select {
	case p.queue <- workItem{name: name, run: run}:
		metricQueueDepth.Inc()
		return true
	default:
		p.logger.Warn().Str("task", name).Msg("Work queue full, dropping item")
		return false
	}
}

// stop closes the queue and waits for in-flight items.
func (p *workerPool) stop() {
	p.mu.Lock()

	if !p.closed {
		p.closed = true
		close(p.queue)
	}

	p.mu.Unlock()
	p.wg.Wait()
}
