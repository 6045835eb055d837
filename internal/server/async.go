package server

import (
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"
)

// TaskPerConn serves each connection as its own lightweight task on the
// runtime scheduler. Task count is decoupled from thread count: I/O waits and
// store-lock waits park the task, never an OS thread, so a small number of
// scheduler threads multiplexes an arbitrary number of connections.
type TaskPerConn struct {
	srv *Server
}

// Serve accepts connections and spawns a task per session until the context
// is canceled, then waits for every task to finish.
func (a *TaskPerConn) Serve(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup

	go a.srv.closeOnDone(ctx, ln)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			a.srv.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			a.srv.HandleConnection(conn)
		}()
	}

	wg.Wait()
	return nil
}
