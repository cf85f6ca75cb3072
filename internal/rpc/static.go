package rpc

import (
	"context"
	"fmt"
	"sync"
)

// StaticHandler answers every session with canned replies. It backs the mock
// cluster and the tests.
type StaticHandler struct {
	Info    string
	Results map[string]string
	Default string
	// Err, when set, is returned for every query.
	Err error

	mu      sync.Mutex
	queries []string
}

// DefaultClusterInfo renders the status text a proxy reports for INFO_RPC.
func DefaultClusterInfo(nodes, current, proxies int) string {
	return fmt.Sprintf("\tnode num: %d\n\tcurrent node: %d\n\tproxy num(per node): %d\n", nodes, current, proxies)
}

func (h *StaticHandler) ClusterInfo(ctx context.Context) (string, error) {
	return h.Info, nil
}

func (h *StaticHandler) ExecuteSparql(ctx context.Context, query, plan string) (string, error) {
	h.mu.Lock()
	h.queries = append(h.queries, query)
	h.mu.Unlock()

	if h.Err != nil {
		return "", h.Err
	}
	if res, ok := h.Results[query]; ok {
		return res, nil
	}
	return h.Default, nil
}

// Queries returns the query texts received so far, in arrival order.
func (h *StaticHandler) Queries() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.queries...)
}
