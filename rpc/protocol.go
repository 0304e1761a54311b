package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// JSON-RPC 2.0 message types, one object per line on the child's stdio.

// RequestID identifies a request within one Transport. IDs increase
// monotonically and are never reused.
type RequestID int64

// Request is an outgoing JSON-RPC request. A nil ID makes it a notification.
type Request struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      *RequestID `json:"id,omitempty"`
	Method  string     `json:"method"`
	Params  any        `json:"params,omitempty"`
}

// reply answers a request the server sent to us.
type reply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a response. Raw keeps the payload exactly
// as the server sent it, even when it does not fit the standard shape.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (e *RPCError) Error() string {
	if e.Code == 0 && e.Message == "" {
		return fmt.Sprintf("rpc error: %s", e.Raw)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Response is a reply matched to one of our requests.
type Response struct {
	ID     RequestID
	Result json.RawMessage // nil when the reply had no result member
	Error  *RPCError       // nil when the reply had no error member
	Raw    json.RawMessage // the full line, for diagnosing protocol violations
}

// HasResult reports whether the reply carried a result member, including
// an explicit null.
func (r *Response) HasResult() bool {
	return r.Result != nil
}

// message is an incoming line after member-presence parsing.
type message struct {
	id        RequestID
	rawID     json.RawMessage
	hasID     bool
	method    string
	params    json.RawMessage
	result    json.RawMessage
	hasResult bool
	err       *RPCError
	raw       json.RawMessage
}

var nullLiteral = []byte("null")

// parseMessage decodes one line. Member presence is checked on the raw
// object so that "result": null still counts as a result.
func parseMessage(line []byte) (*message, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(line, &members); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if members == nil {
		return nil, fmt.Errorf("%w: null message", ErrMalformedMessage)
	}

	msg := &message{raw: json.RawMessage(line)}

	if rawMethod, ok := members["method"]; ok {
		if err := json.Unmarshal(rawMethod, &msg.method); err != nil {
			return nil, fmt.Errorf("%w: method is not a string", ErrMalformedMessage)
		}
	}

	if rawID, ok := members["id"]; ok && !bytes.Equal(rawID, nullLiteral) {
		msg.rawID = rawID
		msg.hasID = true
		id, err := parseID(rawID)
		// Requests from the server may use any id; we only echo it back
		if err != nil && msg.method == "" {
			return nil, err
		}
		msg.id = id
	}

	msg.params = members["params"]

	if result, ok := members["result"]; ok {
		msg.result = result
		msg.hasResult = true
	}

	if rawErr, ok := members["error"]; ok && !bytes.Equal(rawErr, nullLiteral) {
		rpcErr := &RPCError{}
		if err := json.Unmarshal(rawErr, rpcErr); err != nil {
			// Keep non-standard error payloads verbatim
			rpcErr = &RPCError{}
		}
		rpcErr.Raw = rawErr
		msg.err = rpcErr
	}

	return msg, nil
}

// parseID accepts integer ids and, leniently, integers sent as strings.
func parseID(raw json.RawMessage) (RequestID, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return RequestID(i), nil
		}
		if f, err := n.Float64(); err == nil && f == math.Trunc(f) {
			return RequestID(int64(f)), nil
		}
		return 0, fmt.Errorf("%w: non-integer id %s", ErrMalformedMessage, raw)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return RequestID(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unsupported id %s", ErrMalformedMessage, raw)
}

func (m *message) response() *Response {
	resp := &Response{ID: m.id, Error: m.err, Raw: m.raw}
	if m.hasResult {
		resp.Result = m.result
		if resp.Result == nil {
			resp.Result = json.RawMessage(nullLiteral)
		}
	}
	return resp
}
