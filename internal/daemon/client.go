// Package daemon implements the birdc-style client for the routing
// daemon's control socket: one command per connection, line-framed
// replies, pooled issuance of connections, and parallel decoding of
// route dumps through the shared worker pool.
package daemon

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/lightwatcher/lightwatcher/internal/connpool"
	"github.com/lightwatcher/lightwatcher/internal/framer"
	"github.com/lightwatcher/lightwatcher/internal/model"
	"github.com/lightwatcher/lightwatcher/internal/parse"
	"github.com/lightwatcher/lightwatcher/internal/workerpool"
)

// DaemonError is a 9001 line reported by the daemon itself, as opposed
// to a transport failure or a parse error on our side.
type DaemonError struct {
	Line string
}

func (e *DaemonError) Error() string {
	return fmt.Sprintf("daemon reported error: %s", e.Line)
}

// Dialer opens one control-socket connection. Injectable for tests.
type Dialer func(ctx context.Context) (net.Conn, error)

// Client talks to the daemon. Every call opens a fresh pooled connection,
// writes exactly one command and reads the reply to its terminator.
type Client struct {
	log     *zap.Logger
	pool    *connpool.Pool
	workers *workerpool.Pool
	dial    Dialer
}

// New creates a client dialing the Unix control socket at socket.
func New(log *zap.Logger, socket string, pool *connpool.Pool, workers *workerpool.Pool) *Client {
	return &Client{
		log:     log,
		pool:    pool,
		workers: workers,
		dial: func(ctx context.Context) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socket)
		},
	}
}

// NewWithDialer creates a client with a custom dialer. Used by tests to
// substitute an in-memory pipe for the Unix socket.
func NewWithDialer(log *zap.Logger, dial Dialer, pool *connpool.Pool, workers *workerpool.Pool) *Client {
	return &Client{log: log, pool: pool, workers: workers, dial: dial}
}

// connect acquires a pool slot, opens one connection and writes cmd. If
// the dial or the write fails, the slot is released before the error is
// returned; otherwise it stays held until release is called.
func (c *Client) connect(ctx context.Context, cmd string) (net.Conn, func(), error) {
	slot, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}

	conn, err := c.dial(ctx)
	if err != nil {
		slot.Release()
		return nil, nil, fmt.Errorf("connecting to daemon: %w", err)
	}

	if _, err := conn.Write([]byte(cmd)); err != nil {
		conn.Close()
		slot.Release()
		return nil, nil, fmt.Errorf("writing command: %w", err)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			conn.Close()
			slot.Release()
		})
	}
	return conn, release, nil
}

// ShowStatus queries the daemon status.
func (c *Client) ShowStatus(ctx context.Context) (model.BirdStatus, error) {
	conn, release, err := c.connect(ctx, "show status\n")
	if err != nil {
		return model.BirdStatus{}, err
	}
	defer release()

	f := framer.New(conn, parse.StatusStart, parse.StatusStop)
	block, ok := f.Next()
	if f.Errored {
		return model.BirdStatus{}, &DaemonError{Line: f.ErrorLine}
	}
	if !ok {
		return model.BirdStatus{}, fmt.Errorf("empty status reply")
	}
	return parse.Status(block), nil
}

// ShowProtocolsAll queries all protocols. With bgpOnly set, blocks whose
// header line does not mention BGP are skipped.
func (c *Client) ShowProtocolsAll(ctx context.Context, bgpOnly bool) (model.ProtocolsMap, error) {
	conn, release, err := c.connect(ctx, "show protocols all\n")
	if err != nil {
		return nil, err
	}
	defer release()

	reader := parse.NewProtocolReader(conn, bgpOnly, c.log)
	protocols := model.ProtocolsMap{}
	for {
		proto, ok := reader.Next()
		if !ok {
			break
		}
		if proto.ID == "" {
			continue
		}
		protocols[proto.ID] = proto
	}

	if line, errored := reader.Errored(); errored {
		return nil, &DaemonError{Line: line}
	}
	return protocols, nil
}

// showRoutes issues one "show route" command and streams decoded prefix
// groups on the returned channel. The channel closes once the reply is
// fully decoded; cancelling ctx abandons the stream and releases the
// workers. Results arrive in completion order, not daemon order.
func (c *Client) showRoutes(ctx context.Context, cmd string) (<-chan workerpool.Result, error) {
	conn, release, err := c.connect(ctx, cmd)
	if err != nil {
		return nil, err
	}

	results := make(chan workerpool.Result, workerpool.QueueDepth)

	go func() {
		defer release()

		var wg sync.WaitGroup
		f := framer.New(conn, parse.RoutesStart, nil)
		for ctx.Err() == nil {
			block, ok := f.Next()
			if !ok {
				break
			}
			wg.Add(1)
			c.workers.Submit(workerpool.Job{
				Ctx:     ctx,
				Block:   block,
				Results: results,
				Done:    wg.Done,
			})
		}
		wg.Wait()

		if f.Errored {
			c.log.Error("daemon reported error in route dump",
				zap.String("line", f.ErrorLine))
			select {
			case results <- workerpool.Result{Err: &DaemonError{Line: f.ErrorLine}}:
			case <-ctx.Done():
			}
		}
		close(results)
	}()

	return results, nil
}

// ShowRouteAllTable streams all routes of a table.
func (c *Client) ShowRouteAllTable(ctx context.Context, table TableID) (<-chan workerpool.Result, error) {
	cmd := fmt.Sprintf("show route all table '%s'\n", table)
	return c.showRoutes(ctx, cmd)
}

// ShowRouteAllFilteredTable streams the filtered routes of a table.
func (c *Client) ShowRouteAllFilteredTable(ctx context.Context, table TableID) (<-chan workerpool.Result, error) {
	cmd := fmt.Sprintf("show route all filtered table '%s'\n", table)
	return c.showRoutes(ctx, cmd)
}

// ShowRouteAllProtocol streams the routes received from a neighbor.
func (c *Client) ShowRouteAllProtocol(ctx context.Context, protocol ProtocolID) (<-chan workerpool.Result, error) {
	cmd := fmt.Sprintf("show route all protocol '%s'\n", protocol)
	return c.showRoutes(ctx, cmd)
}

// ShowRouteAllFilteredProtocol streams the routes filtered for a neighbor.
func (c *Client) ShowRouteAllFilteredProtocol(ctx context.Context, protocol ProtocolID) (<-chan workerpool.Result, error) {
	cmd := fmt.Sprintf("show route all filtered protocol '%s'\n", protocol)
	return c.showRoutes(ctx, cmd)
}

// ShowRouteAllNoexportProtocol streams the routes not exported to a
// neighbor.
func (c *Client) ShowRouteAllNoexportProtocol(ctx context.Context, protocol ProtocolID) (<-chan workerpool.Result, error) {
	cmd := fmt.Sprintf("show route all noexport protocol '%s'\n", protocol)
	return c.showRoutes(ctx, cmd)
}

// ShowRouteAllTablePeer streams the routes of a table learnt from peer.
func (c *Client) ShowRouteAllTablePeer(ctx context.Context, table TableID, peer PeerID) (<-chan workerpool.Result, error) {
	cmd := fmt.Sprintf("show route all table '%s' where from=%s\n", table, peer)
	return c.showRoutes(ctx, cmd)
}
