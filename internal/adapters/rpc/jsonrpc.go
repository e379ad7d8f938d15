package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"enginelink/go-backend/internal/engine"
	"enginelink/go-backend/internal/wire"
)

const maxNargout = 64

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if !s.applyCORS(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if !s.authorizeRPC(w, r) {
		return
	}
	if !s.limiter.Allow(rateLimitKey(r, extractRPCToken(r)), time.Now()) {
		s.requests.WithLabelValues("", "rate_limited").Inc()
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	var req Request
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeRPC(w, Response{JSONRPC: jsonrpcVersion, Error: &Error{Code: CodeParseError, Message: "parse error"}})
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		writeRPCError(w, req.ID, CodeInvalidRequest, "invalid request")
		return
	}
	if req.JSONRPC != jsonrpcVersion || req.Method == "" {
		writeRPCError(w, req.ID, CodeInvalidRequest, "invalid request")
		return
	}

	reqID := requestID(r, req.ID)
	w.Header().Set(RequestIDHeader, reqID)
	started := time.Now()
	s.logger.Debug("rpc request", "request_id", reqID, "method", req.Method)

	result, rpcErr := s.dispatchRPC(r.Context(), req.Method, req.Params)
	resp := Response{JSONRPC: jsonrpcVersion, ID: req.ID, Error: rpcErr}
	if rpcErr == nil {
		raw, err := json.Marshal(result)
		if err != nil {
			rpcErr = &Error{Code: CodeInternal, Message: "unable to encode result"}
			resp.Error = rpcErr
		} else {
			resp.Result = raw
		}
	}
	latency := time.Since(started).Milliseconds()
	if rpcErr != nil {
		s.requests.WithLabelValues(req.Method, "error").Inc()
		s.logger.Warn("rpc failed", "request_id", reqID, "method", req.Method, "rpc_code", rpcErr.Code, "latency_ms", latency)
	} else {
		s.requests.WithLabelValues(req.Method, "ok").Inc()
		s.logger.Info("rpc response", "request_id", reqID, "method", req.Method, "latency_ms", latency)
	}
	writeRPC(w, resp)
}

func (s *Server) dispatchRPC(ctx context.Context, method string, raw json.RawMessage) (any, *Error) {
	switch method {
	case MethodHealthCheck:
		return map[string]string{"status": "ok"}, nil
	case MethodVersion:
		return map[string]int{"version": apiVersion}, nil
	}
	if s.session == nil {
		return nil, &Error{Code: CodeServiceUnavailable, Message: "session is not initialized"}
	}
	switch method {
	case MethodEval:
		p, err := decodeScriptParams(raw, false)
		if err != nil {
			return nil, invalidParams(err)
		}
		if err := s.session.Eval(ctx, p.Script); err != nil {
			return nil, invocationError(err)
		}
		return struct{}{}, nil
	case MethodReturningEval:
		p, err := decodeScriptParams(raw, true)
		if err != nil {
			return nil, invalidParams(err)
		}
		out, err := s.session.ReturningEval(ctx, p.Script, p.Nargout)
		if err != nil {
			return nil, invocationError(err)
		}
		return valuesResult(out)
	case MethodFeval, MethodReturningFeval:
		returning := method == MethodReturningFeval
		p, args, err := decodeCallParams(raw, returning)
		if err != nil {
			return nil, invalidParams(err)
		}
		if !returning {
			if err := s.session.Feval(ctx, p.Name, args...); err != nil {
				return nil, invocationError(err)
			}
			return struct{}{}, nil
		}
		out, err := s.session.ReturningFeval(ctx, p.Name, p.Nargout, args...)
		if err != nil {
			return nil, invocationError(err)
		}
		return valuesResult(out)
	case MethodGetVariable:
		p, err := decodeVariableParams(raw, false)
		if err != nil {
			return nil, invalidParams(err)
		}
		v, err := s.session.GetVariable(ctx, p.Name)
		if err != nil {
			return nil, invocationError(err)
		}
		enc, err := wire.Encode(v)
		if err != nil {
			return nil, invocationError(err)
		}
		return ValueResult{Value: enc}, nil
	case MethodSetVariable:
		p, err := decodeVariableParams(raw, true)
		if err != nil {
			return nil, invalidParams(err)
		}
		v, err := wire.Decode(*p.Value)
		if err != nil {
			return nil, invalidParams(err)
		}
		s.logger.Debug("set variable", "variable", p.Name, "value", v)
		if err := s.session.SetVariable(ctx, p.Name, v); err != nil {
			return nil, invocationError(err)
		}
		return struct{}{}, nil
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: "method not found"}
	}
}

func decodeScriptParams(raw json.RawMessage, returning bool) (ScriptParams, error) {
	var p ScriptParams
	if err := strictUnmarshal(raw, &p); err != nil {
		return p, err
	}
	if strings.TrimSpace(p.Script) == "" {
		return p, errors.New("script is required")
	}
	if err := checkNargout(p.Nargout, returning); err != nil {
		return p, err
	}
	return p, nil
}

func decodeCallParams(raw json.RawMessage, returning bool) (CallParams, []any, error) {
	var p CallParams
	if err := strictUnmarshal(raw, &p); err != nil {
		return p, nil, err
	}
	if strings.TrimSpace(p.Name) == "" {
		return p, nil, errors.New("name is required")
	}
	if err := checkNargout(p.Nargout, returning); err != nil {
		return p, nil, err
	}
	args, err := wire.DecodeAll(p.Args)
	if err != nil {
		return p, nil, err
	}
	return p, args, nil
}

func decodeVariableParams(raw json.RawMessage, withValue bool) (VariableParams, error) {
	var p VariableParams
	if err := strictUnmarshal(raw, &p); err != nil {
		return p, err
	}
	if !engine.ValidIdentifier(p.Name) {
		return p, fmt.Errorf("invalid variable name %q", p.Name)
	}
	if withValue && p.Value == nil {
		return p, errors.New("value is required")
	}
	if !withValue && p.Value != nil {
		return p, errors.New("unexpected value")
	}
	return p, nil
}

func checkNargout(n int, returning bool) error {
	if !returning {
		if n != 0 {
			return errors.New("nargout is only valid for returning methods")
		}
		return nil
	}
	if n < 0 || n > maxNargout {
		return fmt.Errorf("nargout must be between 0 and %d", maxNargout)
	}
	return nil
}

func strictUnmarshal(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return errors.New("params are required")
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func valuesResult(values []any) (any, *Error) {
	enc, err := wire.EncodeAll(values)
	if err != nil {
		return nil, invocationError(err)
	}
	return ValuesResult{Values: enc}, nil
}

func invalidParams(err error) *Error {
	return &Error{Code: CodeInvalidParams, Message: "invalid params: " + err.Error()}
}

func invocationError(err error) *Error {
	if errors.Is(err, wire.ErrUnsupported) {
		return &Error{Code: CodeUnsupportedValue, Message: err.Error()}
	}
	return &Error{Code: CodeInvocation, Message: err.Error()}
}

// requestID echoes a caller supplied correlation id, falling back to the
// JSON-RPC id.
func requestID(r *http.Request, id json.RawMessage) string {
	if v := strings.TrimSpace(r.Header.Get(RequestIDHeader)); v != "" && len(v) <= 128 {
		return v
	}
	if len(id) > 0 {
		return "rpc." + strings.Trim(string(id), `"`)
	}
	return fmt.Sprintf("rpc_%d", time.Now().UnixNano())
}

func writeRPC(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, msg string) {
	writeRPC(w, Response{JSONRPC: jsonrpcVersion, ID: id, Error: &Error{Code: code, Message: msg}})
}
