// Package rpc speaks newline-delimited JSON-RPC 2.0 with a child process
// over its stdin and stdout.
//
// A Transport owns one background reader for stdout and one for stderr.
// Callers send requests from any goroutine; each request gets a unique id
// and a one-shot slot in a PendingTable that the stdout reader fills when
// the matching response arrives. Responses may arrive in any order.
package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhubert/plural-bridge/logger"
	"github.com/zhubert/plural-bridge/metrics"
)

const (
	// MaxLineSize is the longest stdout line accepted. Longer lines are
	// discarded as malformed.
	MaxLineSize = 16 * 1024 * 1024

	// DefaultStderrTail is how many stderr lines are kept for diagnostics.
	DefaultStderrTail = 50

	jsonrpcVersion = "2.0"
	readBufferSize = 64 * 1024
)

var errLineTooLong = errors.New("line exceeds maximum size")

// NotificationHandler receives server notifications on the read loop. It
// must not block; panics are recovered and logged.
type NotificationHandler func(method string, params json.RawMessage)

// Transport is a JSON-RPC client bound to one child's stdio.
type Transport struct {
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader
	log    *slog.Logger

	writeMu sync.Mutex
	nextID  atomic.Int64
	pending *PendingTable

	onNotify NotificationHandler
	tail     *lineTail

	closed    atomic.Bool
	closeOnce sync.Once
	startOnce sync.Once
	readDone  chan struct{}
	wg        sync.WaitGroup
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger. Defaults to the "rpc" component logger.
func WithLogger(log *slog.Logger) Option {
	return func(t *Transport) {
		t.log = log
	}
}

// WithNotificationHandler sets the handler for server notifications.
func WithNotificationHandler(h NotificationHandler) Option {
	return func(t *Transport) {
		t.onNotify = h
	}
}

// WithStderrTail sets how many stderr lines are retained.
func WithStderrTail(n int) Option {
	return func(t *Transport) {
		t.tail = newLineTail(n)
	}
}

// NewTransport creates a Transport over the given streams. stderr may be
// nil. Call Start to begin reading.
func NewTransport(stdin io.WriteCloser, stdout, stderr io.Reader, opts ...Option) *Transport {
	t := &Transport{
		stdin:    stdin,
		stdout:   stdout,
		stderr:   stderr,
		pending:  NewPendingTable(),
		readDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = logger.WithComponent("rpc")
	}
	if t.tail == nil {
		t.tail = newLineTail(DefaultStderrTail)
	}
	return t
}

// Start launches the stdout and stderr readers. Calling it again is a no-op.
func (t *Transport) Start() {
	t.startOnce.Do(func() {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			defer close(t.readDone)
			t.readLoop()
		}()

		if t.stderr != nil {
			t.wg.Add(1)
			go func() {
				defer t.wg.Done()
				t.drainStderr()
			}()
		}
	})
}

// Send writes a request and returns its id. The response slot is registered
// before the write, so the caller may Await at any later point.
func (t *Transport) Send(method string, params any) (RequestID, error) {
	if t.closed.Load() {
		return 0, ErrNotConnected
	}
	id := RequestID(t.nextID.Add(1))
	if err := t.pending.Register(id); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	if err := t.write(Request{JSONRPC: jsonrpcVersion, ID: &id, Method: method, Params: params}); err != nil {
		t.pending.Remove(id)
		return 0, err
	}
	t.log.Debug("sent request", "id", id, "method", method)
	return id, nil
}

// Notify writes a notification. No response is expected.
func (t *Transport) Notify(method string, params any) error {
	if t.closed.Load() {
		return ErrNotConnected
	}
	if err := t.write(Request{JSONRPC: jsonrpcVersion, Method: method, Params: params}); err != nil {
		return err
	}
	t.log.Debug("sent notification", "method", method)
	return nil
}

// Await waits for the response to id. On timeout the slot is dropped and
// ErrTimeout returned; a response arriving later is discarded.
func (t *Transport) Await(ctx context.Context, id RequestID, timeout time.Duration) (*Response, error) {
	return t.pending.Wait(ctx, id, timeout)
}

// Request sends method and waits up to timeout for its response. A response
// carrying an error member is returned as is; interpreting it is up to the
// caller.
func (t *Transport) Request(ctx context.Context, method string, params any, timeout time.Duration) (*Response, error) {
	start := time.Now()

	id, err := t.Send(method, params)
	if err != nil {
		metrics.Requests.WithLabelValues(method, "send_error").Inc()
		return nil, err
	}

	resp, err := t.Await(ctx, id, timeout)
	metrics.RequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, ErrTimeout):
		metrics.Requests.WithLabelValues(method, "timeout").Inc()
		t.log.Warn("request timed out", "id", id, "method", method, "timeout", timeout)
	case err != nil:
		metrics.Requests.WithLabelValues(method, "closed").Inc()
	case resp.Error != nil:
		metrics.Requests.WithLabelValues(method, "rpc_error").Inc()
	default:
		metrics.Requests.WithLabelValues(method, "ok").Inc()
	}
	return resp, err
}

func (t *Transport) write(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.stdin == nil || t.closed.Load() {
		return ErrNotConnected
	}
	// One Write per message keeps lines whole under concurrent senders
	if _, err := t.stdin.Write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// readLoop parses stdout until EOF or a read error, then fails every
// outstanding request.
func (t *Transport) readLoop() {
	reader := bufio.NewReaderSize(t.stdout, readBufferSize)
	for {
		line, err := readLine(reader, MaxLineSize)
		if len(line) > 0 {
			t.dispatch(line)
		}
		if errors.Is(err, errLineTooLong) {
			metrics.MalformedLines.Inc()
			t.log.Warn("discarded oversized line from tool server", "limit", MaxLineSize)
			continue
		}
		if err != nil {
			if err == io.EOF {
				t.log.Debug("tool server closed stdout")
			} else {
				t.log.Debug("stdout read failed", "error", err)
			}
			break
		}
	}
	t.shutdown(ErrClosed)
}

// readLine returns the next line including its newline. Lines longer than
// limit are consumed and reported as errLineTooLong.
func readLine(r *bufio.Reader, limit int) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(buf)+len(chunk) > limit {
			for err == bufio.ErrBufferFull {
				_, err = r.ReadSlice('\n')
			}
			if err != nil {
				return nil, err
			}
			return nil, errLineTooLong
		}
		buf = append(buf, chunk...)
		if err == bufio.ErrBufferFull {
			continue
		}
		return buf, err
	}
}

func (t *Transport) dispatch(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	msg, err := parseMessage(line)
	if err != nil {
		metrics.MalformedLines.Inc()
		t.log.Warn("malformed message from tool server", "error", err, "line", truncate(line, 200))
		return
	}

	switch {
	case msg.hasID && msg.method != "":
		t.answerServerRequest(msg)
	case msg.hasID:
		if !t.pending.Fill(msg.id, msg.response()) {
			metrics.LateResponses.Inc()
			t.log.Debug("dropped response with no waiter", "id", msg.id)
		}
	case msg.method != "":
		t.notify(msg.method, msg.params)
	default:
		metrics.MalformedLines.Inc()
		t.log.Warn("message has neither id nor method", "line", truncate(line, 200))
	}
}

// answerServerRequest replies to requests the server sends us. Only ping is
// supported; anything else gets method-not-found so the server does not hang.
func (t *Transport) answerServerRequest(msg *message) {
	r := reply{JSONRPC: jsonrpcVersion, ID: msg.rawID}
	if msg.method == "ping" {
		r.Result = struct{}{}
	} else {
		r.Error = &RPCError{Code: -32601, Message: "Method not found: " + msg.method}
	}
	if err := t.write(r); err != nil {
		t.log.Debug("failed to answer server request", "method", msg.method, "error", err)
	}
}

func (t *Transport) notify(method string, params json.RawMessage) {
	metrics.Notifications.WithLabelValues(method).Inc()
	if t.onNotify == nil {
		t.log.Debug("notification", "method", method)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("notification handler panicked", "method", method, "panic", r)
		}
	}()
	t.onNotify(method, params)
}

// drainStderr keeps the child's stderr flowing so it never blocks on a full
// pipe, logging each line and keeping a short tail.
func (t *Transport) drainStderr() {
	scanner := bufio.NewScanner(t.stderr)
	scanner.Buffer(make([]byte, 0, readBufferSize), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		t.tail.add(line)
		t.log.Debug("tool server stderr", "line", line)
	}
	if err := scanner.Err(); err != nil {
		t.log.Debug("stderr scan stopped, discarding the rest", "error", err)
		_, _ = io.Copy(io.Discard, t.stderr)
	}
}

// StderrTail returns the most recent stderr lines, oldest first.
func (t *Transport) StderrTail() []string {
	return t.tail.lines()
}

// Done is closed once the stdout reader has exited.
func (t *Transport) Done() <-chan struct{} {
	return t.readDone
}

// Closed reports whether the transport has shut down.
func (t *Transport) Closed() bool {
	return t.closed.Load()
}

// Pending returns the number of requests awaiting a response.
func (t *Transport) Pending() int {
	return t.pending.Len()
}

// Close stops accepting requests, fails outstanding ones with ErrClosed and
// closes stdin. The readers exit once the child closes its end.
func (t *Transport) Close() error {
	t.shutdown(ErrClosed)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.stdin == nil {
		return nil
	}
	err := t.stdin.Close()
	t.stdin = nil
	if errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}

// Wait blocks until both readers have exited or timeout elapses and reports
// whether they exited.
func (t *Transport) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (t *Transport) shutdown(err error) {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		if n := t.pending.FailAll(err); n > 0 {
			t.log.Debug("failed pending requests", "count", n, "error", err)
		}
	})
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// lineTail is a fixed-size ring of recent lines.
type lineTail struct {
	mu    sync.Mutex
	buf   []string
	next  int
	full  bool
	limit int
}

func newLineTail(limit int) *lineTail {
	if limit < 1 {
		limit = 1
	}
	return &lineTail{buf: make([]string, limit), limit: limit}
}

func (l *lineTail) add(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.next] = line
	l.next = (l.next + 1) % l.limit
	if l.next == 0 {
		l.full = true
	}
}

func (l *lineTail) lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		return append([]string(nil), l.buf[:l.next]...)
	}
	out := make([]string, 0, l.limit)
	out = append(out, l.buf[l.next:]...)
	return append(out, l.buf[:l.next]...)
}
