package server

import (
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"
)

// WorkerPool serves connections on a fixed set of long-lived workers fed by
// an unbounded FIFO queue. The accept loop never blocks on a slow worker;
// the documented cost is unbounded queue growth under sustained overload.
type WorkerPool struct {
	srv     *Server
	workers int
}

// NewWorkerPool creates a pool strategy with the given worker count.
func NewWorkerPool(srv *Server, workers int) *WorkerPool {
	if workers <= 0 {
		panic("server: worker count must be positive")
	}
	return &WorkerPool{srv: srv, workers: workers}
}

// Serve runs the accept loop and workers until the context is canceled, then
// drains the queue and joins every worker. No session is abandoned
// mid-request: a dispatched handler always finishes its current
// request/response cycle.
func (p *WorkerPool) Serve(ctx context.Context, ln net.Listener) error {
	queue := newConnQueue()

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		worker := p.srv.logger.With(zap.Int("worker", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for conn := range queue.out {
				p.srv.HandleConnection(conn)
			}
			worker.Debug("worker exiting")
		}()
	}

	go p.srv.closeOnDone(ctx, ln)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			p.srv.logger.Warn("accept failed", zap.Error(err))
			continue
		}
		queue.push(conn)
	}

	queue.close()
	wg.Wait()
	return nil
}

// connQueue is an unbounded FIFO of accepted connections. Pushes never
// block; a pump goroutine buffers between the two channels. Closing the
// queue flushes whatever is buffered to the workers, then closes out.
type connQueue struct {
	in  chan net.Conn
	out chan net.Conn
}

func newConnQueue() *connQueue {
	q := &connQueue{
		in:  make(chan net.Conn),
		out: make(chan net.Conn),
	}
	go q.pump()
	return q
}

func (q *connQueue) push(conn net.Conn) {
	q.in <- conn
}

func (q *connQueue) close() {
	close(q.in)
}

func (q *connQueue) pump() {
	var buf []net.Conn
	in := q.in

	for in != nil || len(buf) > 0 {
		// Only offer to out when something is buffered; a send on a nil
		// channel never fires.
		var out chan net.Conn
		var next net.Conn
		if len(buf) > 0 {
			out = q.out
			next = buf[0]
		}

		select {
		case conn, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			buf = append(buf, conn)
		case out <- next:
			buf = buf[1:]
		}
	}

	close(q.out)
}
