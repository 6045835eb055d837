package server

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"linekv/internal/proto"
)

// HandleConnection drives one client session end to end: read a line, decode
// it, apply it to the store, write the response, until the stream closes.
// Malformed requests never end the session; only transport-level failures,
// QUIT or shutdown do. The connection is closed on every exit path.
func (s *Server) HandleConnection(conn net.Conn) {
	defer conn.Close()

	if !s.trackConn(conn) {
		// Accepted during shutdown, never served.
		return
	}
	defer s.untrackConn(conn)

	s.metrics.ConnOpened()
	defer s.metrics.ConnClosed()

	logger := s.logger.With(zap.String("peer", conn.RemoteAddr().String()))
	logger.Debug("client connected")

	reader := bufio.NewReader(conn)

	for {
		if s.closing.Load() {
			logger.Debug("session closed for shutdown")
			return
		}

		if timeout := s.cfg.IdleTimeout.Duration; timeout > 0 {
			conn.SetReadDeadline(time.Now().Add(timeout))
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if len(line) > 0 && errors.Is(err, io.EOF) {
				// Final request without a trailing newline before a clean
				// close: answer it. A line cut off by an idle timeout,
				// a shutdown wake-up or a transport error is incomplete
				// and never becomes a command.
				s.serveLine(conn, line, logger)
			}
			s.logReadEnd(err, logger)
			return
		}

		if done := s.serveLine(conn, line, logger); done {
			logger.Debug("session closed by client")
			return
		}
	}
}

// serveLine handles one raw request line. It reports true when the session
// must end: after QUIT or a failed write.
func (s *Server) serveLine(conn net.Conn, line string, logger *zap.Logger) bool {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	cmd := proto.Decode(line)
	resp := s.exec.Apply(cmd)

	if _, err := io.WriteString(conn, proto.Encode(resp)); err != nil {
		logger.Warn("write failed", zap.Error(err))
		return true
	}

	return cmd.Kind == proto.CmdQuit
}

// logReadEnd reports why a session's read loop stopped. A clean EOF and a
// shutdown wake-up are normal; everything else is a transport error.
func (s *Server) logReadEnd(err error, logger *zap.Logger) {
	switch {
	case errors.Is(err, io.EOF):
		logger.Debug("client disconnected")
	case s.closing.Load():
		logger.Debug("session closed for shutdown")
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			logger.Info("closing idle connection")
		} else {
			logger.Warn("read failed", zap.Error(err))
		}
	}
}
