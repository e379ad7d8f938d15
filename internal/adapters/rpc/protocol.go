package rpc

import (
	"encoding/json"
	"fmt"

	"enginelink/go-backend/internal/wire"
)

const (
	MethodEval           = "session.eval"
	MethodReturningEval  = "session.returning_eval"
	MethodFeval          = "session.feval"
	MethodReturningFeval = "session.returning_feval"
	MethodGetVariable    = "session.get_variable"
	MethodSetVariable    = "session.set_variable"
	MethodHealthCheck    = "health_check"
	MethodVersion        = "rpc.version"
)

const (
	TokenHeader     = "X-Engine-RPC-Token"
	RequestIDHeader = "X-Engine-Request-ID"
)

const (
	CodeParseError         = -32700
	CodeInvalidRequest     = -32600
	CodeMethodNotFound     = -32601
	CodeInvalidParams      = -32602
	CodeInternal           = -32603
	CodeInvocation         = -32000
	CodeUnsupportedValue   = -32001
	CodeServiceUnavailable = -32099
)

const (
	apiVersion     = 1
	jsonrpcVersion = "2.0"
)

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ScriptParams are the params of session.eval and session.returning_eval.
type ScriptParams struct {
	Script  string `json:"script"`
	Nargout int    `json:"nargout,omitempty"`
}

// CallParams are the params of session.feval and session.returning_feval.
type CallParams struct {
	Name    string       `json:"name"`
	Nargout int          `json:"nargout,omitempty"`
	Args    []wire.Value `json:"args,omitempty"`
}

// VariableParams are the params of session.get_variable and
// session.set_variable.
type VariableParams struct {
	Name  string      `json:"name"`
	Value *wire.Value `json:"value,omitempty"`
}

type ValuesResult struct {
	Values []wire.Value `json:"values"`
}

type ValueResult struct {
	Value wire.Value `json:"value"`
}
