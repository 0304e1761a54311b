// Package manager owns the lifecycle of one tool server connection: spawn,
// handshake, tool discovery, profile cleanup and deterministic teardown.
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhubert/plural-bridge/browser"
	"github.com/zhubert/plural-bridge/config"
	"github.com/zhubert/plural-bridge/logger"
	"github.com/zhubert/plural-bridge/mcp"
	"github.com/zhubert/plural-bridge/metrics"
	"github.com/zhubert/plural-bridge/process"
	"github.com/zhubert/plural-bridge/rpc"
)

// readerDrainTimeout bounds the wait for the stdout and stderr readers after
// the child is gone.
const readerDrainTimeout = 2 * time.Second

// ConnectionManager connects to a tool server child process and tears it
// down again. It is owned by the caller; there is no global registry, so
// the caller defers Disconnect at its entry point.
//
// Thread Safety:
// All methods are safe for concurrent use. The mutex guards only the state
// and the current client; spawn, handshake and teardown run unlocked and are
// serialized by the state machine.
type ConnectionManager struct {
	cfg        config.Browser
	log        *slog.Logger
	supervisor *process.Supervisor

	mu      sync.Mutex
	state   State
	client  *Client
	stopped chan struct{} // closed when the current teardown finishes
}

// Option configures a ConnectionManager.
type Option func(*ConnectionManager)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *ConnectionManager) {
		m.log = log
	}
}

// WithSupervisor replaces the process supervisor (for testing).
func WithSupervisor(s *process.Supervisor) Option {
	return func(m *ConnectionManager) {
		m.supervisor = s
	}
}

// NewConnectionManager creates a disconnected manager for cfg.
func NewConnectionManager(cfg config.Browser, opts ...Option) *ConnectionManager {
	m := &ConnectionManager{cfg: cfg}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.WithComponent("manager")
	}
	if m.supervisor == nil {
		m.supervisor = process.NewSupervisor(m.log.With("component", "process"))
	}
	return m
}

// State returns the current lifecycle state.
func (m *ConnectionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Client returns the connected client, or nil.
func (m *ConnectionManager) Client() *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

// Connect starts the tool server, performs the handshake, hands the
// discovered tools to registrar and, for a persistent profile, resets the
// browser's pages. It never returns an error: any failure is logged, the
// child is killed and nil is returned, leaving the manager disconnected.
// registrar may be nil.
func (m *ConnectionManager) Connect(ctx context.Context, registrar ToolRegistrar) *Client {
	m.mu.Lock()
	current := m.state
	next, err := Transition(current, EventConnect)
	if err != nil {
		m.mu.Unlock()
		m.log.Warn("connect ignored", "state", current, "error", err)
		metrics.Connects.WithLabelValues("busy").Inc()
		return nil
	}
	m.state = next
	m.mu.Unlock()

	client, outcome, err := m.connect(ctx, registrar)

	m.mu.Lock()
	defer m.mu.Unlock()
	metrics.Connects.WithLabelValues(outcome).Inc()
	if err != nil {
		m.state, _ = Transition(m.state, EventConnectFailed)
		m.log.Error("tool server unavailable", "error", err)
		return nil
	}
	m.state, _ = Transition(m.state, EventConnected)
	m.client = client
	metrics.ActiveConnections.Inc()
	return client
}

func (m *ConnectionManager) connect(ctx context.Context, registrar ToolRegistrar) (client *Client, outcome string, err error) {
	if d := m.cfg.ConnectTimeout.Duration; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	args, err := BuildArgs(m.cfg)
	if err != nil {
		return nil, "spawn_error", err
	}

	h, err := m.supervisor.Spawn(process.SpawnConfig{
		Command: m.cfg.Command,
		Args:    args,
		Dir:     m.cfg.Dir,
		Env:     m.cfg.Env,
	})
	if err != nil {
		return nil, "spawn_error", err
	}

	id := uuid.New().String()
	log := m.log.With("connID", id, "pid", h.PID())
	log.Info("tool server started", "command", m.cfg.Command, "isolated", m.cfg.Isolated)

	t := rpc.NewTransport(h.Stdin, h.Stdout, h.Stderr,
		rpc.WithLogger(log.With("component", "rpc")),
		rpc.WithNotificationHandler(func(method string, params json.RawMessage) {
			log.Debug("tool server notification", "method", method, "params", string(params))
		}),
	)
	t.Start()

	c := &Client{
		id:        id,
		handle:    h,
		transport: t,
		mcp: mcp.NewClient(t,
			mcp.WithCallTimeout(m.cfg.CallTimeout.Duration),
			mcp.WithClientLogger(log.With("component", "mcp")),
		),
		log: log,
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during connect: %v", r)
			outcome = "handshake_error"
		}
		if err != nil {
			if tail := t.StderrTail(); len(tail) > 0 {
				log.Error("tool server stderr before failure", "stderr", strings.Join(tail, "\n"))
			}
			m.teardown(c)
			m.sweep()
			client = nil
		}
	}()

	if _, err := c.mcp.Initialize(ctx, 0); err != nil {
		return nil, "handshake_error", fmt.Errorf("initialize: %w", err)
	}

	tools, err := c.mcp.ListTools(ctx, 0)
	if err != nil {
		return nil, "handshake_error", fmt.Errorf("list tools: %w", err)
	}
	c.tools = tools
	log.Info("discovered tools", "count", len(tools))

	if registrar != nil {
		if err := registrar.RegisterTools(c, c.Tools()); err != nil {
			return nil, "registrar_error", fmt.Errorf("register tools: %w", err)
		}
	}

	if !m.cfg.Isolated && !m.cfg.SkipCleanup {
		cleaner := browser.NewSessionCleaner(c, m.cfg.PageTools, log.With("component", "cleaner"))
		if d := m.cfg.CallTimeout.Duration; d > 0 {
			cleaner.CallTimeout = d
		}
		report := cleaner.Clean(ctx)
		log.Debug("session cleanup finished", "pages", report.Pages, "closed", report.Closed, "errors", report.Errors)
	}

	go m.watch(c)
	return c, "ok", nil
}

// watch logs an unexpected exit of a connected tool server. The client stays
// registered until Disconnect; its calls fail meanwhile.
func (m *ConnectionManager) watch(c *Client) {
	<-c.handle.Done()

	m.mu.Lock()
	unexpected := m.client == c && m.state == StateConnected
	m.mu.Unlock()
	if !unexpected {
		return
	}
	c.log.Warn("tool server exited while connected",
		"error", c.handle.ExitErr(),
		"stderr", strings.Join(c.transport.StderrTail(), "\n"))
}

// Disconnect closes the connection and guarantees the child, its
// descendants and any marker-matched orphans are gone. It never fails and a
// second call is a no-op. A call that overlaps a running teardown returns
// once that teardown has finished.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	current := m.state
	next, err := Transition(current, EventDisconnect)
	if err != nil {
		m.mu.Unlock()
		m.log.Debug("disconnect ignored", "state", current)
		return
	}
	if current == StateDisconnecting {
		stopped := m.stopped
		m.mu.Unlock()
		<-stopped
		return
	}
	m.state = next
	client := m.client
	m.client = nil
	stopped := make(chan struct{})
	m.stopped = stopped
	m.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic during disconnect", "panic", r)
		}
		m.mu.Lock()
		m.state, _ = Transition(m.state, EventDisconnected)
		m.mu.Unlock()
		close(stopped)
	}()

	if client != nil {
		m.teardown(client)
		metrics.ActiveConnections.Dec()
	}
	m.sweep()
}

// teardown closes stdin as the graceful close, then terminates the process
// tree and fails whatever is still waiting. Descendants are recorded first:
// once the child exits they are reparented and no longer found under it.
func (m *ConnectionManager) teardown(c *Client) {
	log := c.log
	pid := c.handle.PID()
	descendants := m.supervisor.Descendants(context.Background(), pid)

	if err := m.closeGracefully(c); err != nil {
		log.Warn("graceful shutdown failed, terminating", "error", err)
	}

	m.supervisor.TerminateTree(pid, m.cfg.GracePeriod.Duration, descendants...)
	select {
	case <-c.handle.Done():
	case <-time.After(readerDrainTimeout):
		log.Error("tool server not reaped after termination")
	}

	if err := c.transport.Close(); err != nil {
		log.Debug("closing transport", "error", err)
	}
	drained := c.transport.Wait(readerDrainTimeout)
	c.handle.Release()
	if !drained {
		log.Debug("readers were still blocked, pipes released")
		c.transport.Wait(readerDrainTimeout)
	}
	log.Info("tool server stopped", "exit", c.handle.ExitErr())
}

func (m *ConnectionManager) closeGracefully(c *Client) error {
	if err := c.handle.CloseStdin(); err != nil {
		return &ShutdownError{Step: "close stdin", Err: err}
	}
	timeout := m.cfg.ShutdownTimeout.Duration
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	select {
	case <-c.handle.Done():
		return nil
	case <-time.After(timeout):
		return &ShutdownError{Step: "wait", Err: fmt.Errorf("still running after %s", timeout)}
	}
}

// sweep terminates processes left behind under the profile marker. Isolated
// profiles have no marker and are skipped.
func (m *ConnectionManager) sweep() {
	mk := marker(m.cfg)
	if mk == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if n := m.supervisor.SweepOrphans(ctx, mk, m.cfg.GracePeriod.Duration); n > 0 {
		m.log.Info("swept orphaned processes", "count", n, "marker", mk)
	}
}
