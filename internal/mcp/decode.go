package mcp

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/smartcopy-pro/smartcopy/internal/errors"
)

// decode round-trips the tool arguments through JSON into T. Missing
// arguments decode to the zero value; anything that does not fit T is an
// INVALID_REQUEST naming the tool.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var out T
	args := req.GetArguments()
	if len(args) == 0 {
		return out, nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return out, errors.NewInvalidRequest(req.Params.Name + ": arguments are not JSON")
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, errors.NewInvalidRequest(req.Params.Name + ": " + err.Error())
	}
	return out, nil
}
