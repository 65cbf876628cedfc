// Package protocol defines the frames exchanged between the host engine and the
// geistbind daemon. Every frame is a single JSON object. Requests carry a
// correlation id, out-of-band answers carry an awaitId instead.
package protocol

import (
	"errors"
	"fmt"
)

// Message types for the msgtype field.
const (
	MsgFunction   = "function"
	MsgUpdateHash = "update_hash"
	MsgCommand    = "command"
)

// Reserved function names with dispatcher-level semantics.
const (
	FnDefine   = "Define"
	FnUndefine = "Undefine"
	FnRename   = "Rename"
	FnAttr     = "Attr"
)

// Frame field names.
const (
	FieldID        = "id"
	FieldAwaitID   = "awaitId"
	FieldMsgType   = "msgtype"
	FieldName      = "NAME"
	FieldType      = "PYTHONTYPE"
	FieldAltType   = "TYPE"
	FieldFunction  = "function"
	FieldArgs      = "args"
	FieldArgsH     = "argsh"
	FieldDefArgs   = "defargs"
	FieldDefArgsH  = "defargsh"
	FieldFinished  = "finished"
	FieldReturnVal = "returnval"
	FieldError     = "error"
	FieldCommand   = "command"
	FieldResult    = "result"
)

// ErrMissingField is returned when a function request lacks a required field.
var ErrMissingField = errors.New("missing field")

// Hash is a decoded frame. Fields unknown to the binding are kept so they can be
// echoed back to the host.
type Hash map[string]any

// Copy returns a shallow copy of the hash.
func (h Hash) Copy() Hash {
	out := make(Hash, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// String returns the value of key as a string, or "" if absent.
func (h Hash) String(key string) string {
	v, ok := h[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Has reports whether key is present.
func (h Hash) Has(key string) bool {
	_, ok := h[key]
	return ok
}

// Request is a parsed function invocation. The underlying Hash is shared with
// the handler and echoed back in replies and updates.
type Request struct {
	Hash     Hash
	ID       any
	Name     string
	Type     string
	Function string
	Args     []string
	ArgsH    map[string]string
	DefArgs  []string
	DefArgsH map[string]string
}

// ParseRequest extracts the typed fields of a function request.
func ParseRequest(h Hash) (*Request, error) {
	req := &Request{
		Hash:     h,
		ID:       h[FieldID],
		Name:     h.String(FieldName),
		Type:     h.String(FieldType),
		Function: h.String(FieldFunction),
		Args:     stringList(h[FieldArgs]),
		ArgsH:    stringMap(h[FieldArgsH]),
		DefArgs:  stringList(h[FieldDefArgs]),
		DefArgsH: stringMap(h[FieldDefArgsH]),
	}
	if req.Type == "" {
		req.Type = h.String(FieldAltType)
	}
	if req.ID == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, FieldID)
	}
	if req.Name == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, FieldName)
	}
	if req.Function == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, FieldFunction)
	}
	return req, nil
}

// Reply builds the terminal success frame for req.
func Reply(req *Request, value string) Hash {
	out := req.Hash.Copy()
	out[FieldFinished] = 1
	out[FieldReturnVal] = value
	out[FieldID] = req.ID
	return out
}

// ErrorReply builds the terminal error frame for req.
func ErrorReply(req *Request, msg string) Hash {
	out := req.Hash.Copy()
	out[FieldFinished] = 1
	out[FieldError] = msg
	out[FieldID] = req.ID
	return out
}

// Update builds an update_hash push from h. The id is dropped so the host does
// not correlate it with a pending request.
func Update(h Hash) Hash {
	out := h.Copy()
	out[FieldMsgType] = MsgUpdateHash
	delete(out, FieldID)
	return out
}

// Command builds a binding-to-host command frame awaiting an answer under token.
func Command(token, name, cmd string) Hash {
	return Hash{
		FieldAwaitID: token,
		FieldMsgType: MsgCommand,
		FieldName:    name,
		FieldCommand: cmd,
	}
}

func stringList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
			continue
		}
		out = append(out, fmt.Sprint(item))
	}
	return out
}

func stringMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return map[string]string{}
	}
	out := make(map[string]string, len(m))
	for k, item := range m {
		if s, ok := item.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(item)
	}
	return out
}
