package server

import (
	"context"
	"errors"
	"net"

	"go.uber.org/zap"
)

// SingleThreaded serves connections strictly one at a time: a session is
// drained to completion before the next connection is accepted. One stalled
// client blocks all others; it exists as the correctness baseline the other
// strategies are tested against.
type SingleThreaded struct {
	srv *Server
}

// Serve accepts and handles connections sequentially until the context is
// canceled.
func (s *SingleThreaded) Serve(ctx context.Context, ln net.Listener) error {
	go s.srv.closeOnDone(ctx, ln)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			// Resource exhaustion or a transient network fault: keep
			// accepting rather than terminating the server.
			s.srv.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		s.srv.HandleConnection(conn)
	}
}
