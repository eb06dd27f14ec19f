package sync

import (
	"fmt"

	"github.com/mabmrun/mabm/pkg/mabmerr"
)

// edge is a cross-process watch to install during topology
// synchronization: the watcher's agent, homed on some process, should
// watch the remote watched id. Both sides travel as canonical id
// strings so the wire form is identical across every transport backend.
type edge struct {
	Watcher string
	Watched string
}

// normalizeEdges coerces a value returned from a collective call back
// into an edge slice. chantransport passes the []edge value straight
// through; sqltransport and kafkatransport decode JSON arrays of
// objects into []any of map[string]any.
func normalizeEdges(v any) ([]edge, error) {
	switch vv := v.(type) {
	case nil:
		return nil, nil
	case []edge:
		return vv, nil
	case []any:
		out := make([]edge, 0, len(vv))
		for _, item := range vv {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("sync: unexpected edge element type %T: %w", item, mabmerr.ErrTransport)
			}
			watcher, _ := m["Watcher"].(string)
			watched, _ := m["Watched"].(string)
			out = append(out, edge{Watcher: watcher, Watched: watched})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("sync: unexpected edges payload type %T: %w", v, mabmerr.ErrTransport)
	}
}
