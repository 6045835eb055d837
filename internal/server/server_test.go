package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"linekv/internal/config"
	"linekv/internal/metrics"
	"linekv/internal/store"
)

var strategies = []string{config.StrategySingle, config.StrategyPool, config.StrategyAsync}

func testConfig(strategy string) config.Config {
	cfg := config.DefaultConfig()
	cfg.Strategy = strategy
	cfg.Workers = 4
	cfg.Admin.Enabled = false
	return cfg
}

// startServer runs a server with the given config on an ephemeral port and
// returns its address plus a stop function that performs a full graceful
// shutdown.
func startServer(t *testing.T, cfg config.Config) (string, func()) {
	t.Helper()

	srv := NewServer(store.NewStore(), metrics.NewMetrics(), zap.NewNop(), cfg)
	strat, err := srv.Strategy()
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- strat.Serve(ctx, ln)
	}()

	stop := func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("server did not shut down")
		}
	}
	return ln.Addr().String(), stop
}

type testClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dial(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	return &testClient{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *testClient) close() {
	c.conn.Close()
}

func (c *testClient) send(t *testing.T, line string) {
	t.Helper()
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func (c *testClient) recv(t *testing.T) string {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.reader.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimSuffix(line, "\n")
}

func (c *testClient) roundTrip(t *testing.T, line string) string {
	t.Helper()
	c.send(t, line)
	return c.recv(t)
}

func TestScenarioSetGetDelete(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy, func(t *testing.T) {
			addr, stop := startServer(t, testConfig(strategy))
			defer stop()

			c := dial(t, addr)
			defer c.close()

			assert.Equal(t, "OK", c.roundTrip(t, "SET name Alice"))
			assert.Equal(t, "VALUE Alice", c.roundTrip(t, "GET name"))
			assert.Equal(t, "OK", c.roundTrip(t, "DEL name"))
			assert.Equal(t, "NOT_FOUND", c.roundTrip(t, "GET name"))
		})
	}
}

func TestScenarioKeys(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy, func(t *testing.T) {
			addr, stop := startServer(t, testConfig(strategy))
			defer stop()

			c := dial(t, addr)
			defer c.close()

			assert.Equal(t, "EMPTY", c.roundTrip(t, "KEYS"))

			assert.Equal(t, "OK", c.roundTrip(t, "SET a 1"))
			assert.Equal(t, "OK", c.roundTrip(t, "SET b 2"))

			// Key order is unspecified: compare as sets.
			response := c.roundTrip(t, "KEYS")
			fields := strings.Fields(response)
			require.NotEmpty(t, fields)
			assert.Equal(t, "KEYS", fields[0])
			assert.ElementsMatch(t, []string{"a", "b"}, fields[1:])
		})
	}
}

func TestScenarioUnknownCommandKeepsSession(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy, func(t *testing.T) {
			addr, stop := startServer(t, testConfig(strategy))
			defer stop()

			c := dial(t, addr)
			defer c.close()

			assert.Equal(t, "ERROR unknown command: FOO bar", c.roundTrip(t, "FOO bar"))

			// Malformed requests never terminate the connection.
			assert.Equal(t, "OK", c.roundTrip(t, "SET k v"))
			assert.Equal(t, "VALUE v", c.roundTrip(t, "GET k"))
		})
	}
}

func TestValueWithSpaces(t *testing.T) {
	addr, stop := startServer(t, testConfig(config.StrategyAsync))
	defer stop()

	c := dial(t, addr)
	defer c.close()

	assert.Equal(t, "OK", c.roundTrip(t, "SET msg Hello World"))
	assert.Equal(t, "VALUE Hello World", c.roundTrip(t, "GET msg"))
}

func TestQuitClosesSession(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy, func(t *testing.T) {
			addr, stop := startServer(t, testConfig(strategy))
			defer stop()

			c := dial(t, addr)
			defer c.close()

			assert.Equal(t, "BYE", c.roundTrip(t, "QUIT"))

			// The server closes its side after BYE.
			c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			_, err := c.reader.ReadString('\n')
			assert.Error(t, err)
		})
	}
}

func TestPerConnectionOrdering(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy, func(t *testing.T) {
			addr, stop := startServer(t, testConfig(strategy))
			defer stop()

			c := dial(t, addr)
			defer c.close()

			// Pipeline three requests in one write; responses must come
			// back in request order.
			_, err := c.conn.Write([]byte("SET k one\nGET k\nDEL k\n"))
			require.NoError(t, err)

			assert.Equal(t, "OK", c.recv(t))
			assert.Equal(t, "VALUE one", c.recv(t))
			assert.Equal(t, "OK", c.recv(t))
		})
	}
}

func TestScenarioAbruptDisconnect(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy, func(t *testing.T) {
			addr, stop := startServer(t, testConfig(strategy))
			defer stop()

			first := dial(t, addr)
			assert.Equal(t, "OK", first.roundTrip(t, "SET a 1"))

			// Drop the connection without QUIT; the server must release it
			// and keep serving others.
			first.close()

			second := dial(t, addr)
			defer second.close()
			assert.Equal(t, "VALUE 1", second.roundTrip(t, "GET a"))
		})
	}
}

func TestConcurrentClientsIsolation(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy, func(t *testing.T) {
			addr, stop := startServer(t, testConfig(strategy))
			defer stop()

			const clients = 16

			var wg sync.WaitGroup
			for i := 0; i < clients; i++ {
				wg.Add(1)
				go func(id int) {
					defer wg.Done()

					c := dial(t, addr)
					defer c.close()

					value := fmt.Sprintf("client-%d", id)
					assert.Equal(t, "OK", c.roundTrip(t, "SET x "+value))

					// The read must observe a value some client wrote in
					// full, never a torn one.
					response := c.roundTrip(t, "GET x")
					assert.True(t, strings.HasPrefix(response, "VALUE client-"),
						"unexpected response %q", response)
				}(i)
			}
			wg.Wait()
		})
	}
}

func TestWorkerPoolUnderLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("load test")
	}

	addr, stop := startServer(t, testConfig(config.StrategyPool))
	defer stop()

	const clients = 100
	const pairs = 10

	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			c := dial(t, addr)
			defer c.close()

			for j := 0; j < pairs; j++ {
				key := fmt.Sprintf("key-%d-%d", id, j)
				assert.Equal(t, "OK", c.roundTrip(t, fmt.Sprintf("SET %s v%d", key, j)))
				assert.Equal(t, fmt.Sprintf("VALUE v%d", j), c.roundTrip(t, "GET "+key))
			}
		}(i)
	}
	wg.Wait()

	// No lost updates: every distinct key written must be present.
	c := dial(t, addr)
	defer c.close()
	response := c.roundTrip(t, "KEYS")
	assert.Len(t, strings.Fields(response), 1+clients*pairs)
}

func TestIdleTimeout(t *testing.T) {
	cfg := testConfig(config.StrategyAsync)
	cfg.IdleTimeout.Duration = 200 * time.Millisecond

	db := store.NewStore()
	srv := NewServer(db, metrics.NewMetrics(), zap.NewNop(), cfg)
	strat, err := srv.Strategy()
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- strat.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-done
	}()

	t.Run("idle connection closes without a response", func(t *testing.T) {
		c := dial(t, ln.Addr().String())
		defer c.close()

		c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		line, err := c.reader.ReadString('\n')
		assert.Error(t, err)
		assert.Empty(t, line)
	})

	t.Run("partial request is discarded", func(t *testing.T) {
		c := dial(t, ln.Addr().String())
		defer c.close()

		// No trailing newline: an incomplete request interrupted by the
		// timeout must close the session silently, exactly as on EOF,
		// with no store mutation.
		_, err := c.conn.Write([]byte("SET k v"))
		require.NoError(t, err)

		c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		line, err := c.reader.ReadString('\n')
		assert.Error(t, err)
		assert.Empty(t, line)

		_, found := db.Get("k")
		assert.False(t, found)
	})
}

func TestFinalLineBeforeCleanClose(t *testing.T) {
	addr, stop := startServer(t, testConfig(config.StrategyAsync))
	defer stop()

	c := dial(t, addr)
	defer c.close()

	assert.Equal(t, "OK", c.roundTrip(t, "SET k v"))

	// A request missing only its newline before a clean close is still
	// complete: half-close the write side and expect the answer.
	_, err := c.conn.Write([]byte("GET k"))
	require.NoError(t, err)
	require.NoError(t, c.conn.(*net.TCPConn).CloseWrite())

	assert.Equal(t, "VALUE v", c.recv(t))
}

func TestShutdownDiscardsPartialRequest(t *testing.T) {
	cfg := testConfig(config.StrategyAsync)

	db := store.NewStore()
	srv := NewServer(db, metrics.NewMetrics(), zap.NewNop(), cfg)
	strat, err := srv.Strategy()
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- strat.Serve(ctx, ln) }()

	c := dial(t, ln.Addr().String())
	defer c.close()

	// Make sure the session is registered before shutting down.
	assert.Equal(t, "OK", c.roundTrip(t, "SET a 1"))

	// Half a request in flight when the shutdown wakes the reader: it must
	// never be executed.
	_, err = c.conn.Write([]byte("SET k v"))
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	_, found := db.Get("k")
	assert.False(t, found)
}

func TestGracefulShutdown(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy, func(t *testing.T) {
			addr, stop := startServer(t, testConfig(strategy))

			c := dial(t, addr)
			defer c.close()
			assert.Equal(t, "OK", c.roundTrip(t, "SET k v"))

			// stop blocks until the strategy has drained every session.
			stop()

			// The idle session was closed by the shutdown.
			c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			_, err := c.reader.ReadString('\n')
			assert.Error(t, err)

			// And the listener no longer accepts.
			conn, err := net.DialTimeout("tcp", addr, time.Second)
			if err == nil {
				conn.Close()
				t.Error("expected dial to fail after shutdown")
			}
		})
	}
}

func TestStatsSnapshot(t *testing.T) {
	cfg := testConfig(config.StrategyAsync)
	srv := NewServer(store.NewStore(), metrics.NewMetrics(), zap.NewNop(), cfg)
	strat, err := srv.Strategy()
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- strat.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-done
	}()

	c := dial(t, ln.Addr().String())
	defer c.close()
	assert.Equal(t, "OK", c.roundTrip(t, "SET a 1"))

	stats := srv.Stats()
	assert.Equal(t, config.StrategyAsync, stats.Strategy)
	assert.Equal(t, 1, stats.Keys)
	assert.Equal(t, int64(1), stats.TotalConnections)
	assert.Equal(t, int64(1), stats.ActiveConnections)
}

func TestUnknownStrategy(t *testing.T) {
	cfg := testConfig("fibers")
	srv := NewServer(store.NewStore(), metrics.NewMetrics(), zap.NewNop(), cfg)
	_, err := srv.Strategy()
	assert.Error(t, err)
}
