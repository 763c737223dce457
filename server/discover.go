package server

import (
	"context"
	"encoding/json"
)

// DiscoverMethod is the name under which WithDiscovery registers the
// discovery method.
const DiscoverMethod = "rpc.discover"

// DiscoverResult is the result of the discovery method.
type DiscoverResult struct {
	Methods []MethodInfo `json:"methods"`
}

type discoverHandler struct {
	reg *Registry
}

func (d discoverHandler) ServeRPC(ctx context.Context, _ json.RawMessage) (any, error) {
	return DiscoverResult{Methods: d.reg.Describe()}, nil
}
