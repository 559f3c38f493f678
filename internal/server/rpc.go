package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/copyleftdev/chipower/internal/errors"
)

// JSON-RPC 2.0 error codes.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcServerError    = -32000
)

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      interface{}       `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests. Methods take one object
// parameter: power.estimate an EstimateRequest, search.start a SearchRequest,
// search.status and search.cancel {"search_id": ...}.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, rpcParseError, "Parse error", nil, nil)
		return
	}

	if request.JSONRPC != "2.0" {
		s.respondWithError(w, rpcInvalidRequest, "Invalid Request", request.ID, nil)
		return
	}

	var result interface{}
	var err error

	switch request.Method {
	case "power.estimate":
		result, err = s.rpcEstimate(r.Context(), request.Params)
	case "search.start":
		result, err = s.rpcSearchStart(request.Params)
	case "search.status":
		result, err = s.rpcSearchStatus(request.Params)
	case "search.cancel":
		result, err = s.rpcSearchCancel(request.Params)
	default:
		s.respondWithError(w, rpcMethodNotFound, "Method not found", request.ID, nil)
		return
	}

	if err != nil {
		code := rpcServerError
		if errors.IsKind(err, errors.KindInvalidArgument) {
			code = rpcInvalidParams
		}
		s.respondWithError(w, code, err.Error(), request.ID, map[string]interface{}{
			"kind": errors.KindOf(err),
		})
		return
	}

	respondJSON(w, http.StatusOK, rpcResponse{
		JSONRPC: "2.0",
		ID:      request.ID,
		Result:  result,
	})
}

// decodeParams unmarshals the single object parameter into v and validates it.
func decodeParams(params []json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return errors.InvalidArgument("missing required parameters").WithComponent(component)
	}
	return decodeRequest(bytes.NewReader(params[0]), v)
}

func (s *Server) rpcEstimate(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	var req EstimateRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	return s.estimate(ctx, req)
}

func (s *Server) rpcSearchStart(params []json.RawMessage) (interface{}, error) {
	var req SearchRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	return s.startSearch(req)
}

func (s *Server) rpcSearchStatus(params []json.RawMessage) (interface{}, error) {
	var req searchIDRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	return s.searchStatus(req.SearchID)
}

func (s *Server) rpcSearchCancel(params []json.RawMessage) (interface{}, error) {
	var req searchIDRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if err := s.cancelSearch(req.SearchID); err != nil {
		return nil, err
	}
	return map[string]string{"status": "cancellation requested"}, nil
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}, data map[string]interface{}) {
	s.logger.Warn("RPC error", map[string]interface{}{
		"code":    code,
		"message": message,
	})

	respondJSON(w, http.StatusOK, rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &rpcError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}
