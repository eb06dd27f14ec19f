package sync

import (
	"fmt"

	"github.com/mabmrun/mabm/pkg/directory"
	"github.com/mabmrun/mabm/pkg/element"
	"github.com/mabmrun/mabm/pkg/generator"
	"github.com/mabmrun/mabm/pkg/identity"
	"github.com/mabmrun/mabm/pkg/mabmerr"
)

// requestMode is the per-id interest level a process records in its
// requests map. It is a plain string so it survives a JSON transport
// round trip without custom marshaling.
type requestMode string

const (
	modePlain requestMode = "PLAIN"
	modeWatch requestMode = "WATCH"
)

// mergeRequests folds src into dst, WATCH dominating PLAIN on conflict.
// dst may be nil.
func mergeRequests(dst, src map[string]requestMode) map[string]requestMode {
	if dst == nil {
		dst = make(map[string]requestMode, len(src))
	}
	for id, mode := range src {
		if existing, ok := dst[id]; ok {
			if existing == modeWatch || mode == modeWatch {
				dst[id] = modeWatch
			}
			continue
		}
		dst[id] = mode
	}
	return dst
}

// normalizeRequests coerces a value returned from a collective call back
// into a requests map. chantransport passes Go values through untouched
// (the map[string]requestMode case); sqltransport and kafkatransport
// round-trip through JSON, which decodes an object into map[string]any.
func normalizeRequests(v any) (map[string]requestMode, error) {
	switch m := v.(type) {
	case nil:
		return map[string]requestMode{}, nil
	case map[string]requestMode:
		return m, nil
	case map[string]any:
		out := make(map[string]requestMode, len(m))
		for k, val := range m {
			s, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("sync: request mode for %s is not a string: %w", k, mabmerr.ErrTransport)
			}
			out[k] = requestMode(s)
		}
		return out, nil
	case map[string]string:
		out := make(map[string]requestMode, len(m))
		for k, val := range m {
			out[k] = requestMode(val)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("sync: unexpected requests payload type %T: %w", v, mabmerr.ErrTransport)
	}
}

// normalizeAnswers coerces a value returned from a collective call back
// into an answers map (id -> serialized payload).
func normalizeAnswers(v any) (map[string]any, error) {
	switch m := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return m, nil
	default:
		return nil, fmt.Errorf("sync: unexpected answers payload type %T: %w", v, mabmerr.ErrTransport)
	}
}

// buildAnswers implements Stage B: every id in union owned by this
// process is serialized into the answer set, and any
// locally owned id whose state changed this tick (dirtyWatched) is
// included too even if it wasn't asked for this tick. It returns the ids
// newly promoted to a standing outgoing watch (mode WATCH in union).
func buildAnswers(union map[string]requestMode, dirtyWatched map[string]struct{}, dir *directory.Directory, rank int) (map[string]any, []string, error) {
	answers := make(map[string]any)
	var newOutgoing []string

	for idStr, mode := range union {
		id, err := identity.Decode(idStr)
		if err != nil {
			return nil, nil, err
		}
		if id.HomeProcess != rank {
			continue
		}
		agent, err := lookupAgent(dir, idStr)
		if err != nil {
			return nil, nil, err
		}
		answers[idStr] = agent.Serialize()
		if mode == modeWatch {
			newOutgoing = append(newOutgoing, idStr)
		}
	}

	for idStr := range dirtyWatched {
		if _, already := answers[idStr]; already {
			continue
		}
		agent, err := lookupAgent(dir, idStr)
		if err != nil {
			return nil, nil, err
		}
		answers[idStr] = agent.Serialize()
	}

	return answers, newOutgoing, nil
}

func lookupAgent(dir *directory.Directory, idStr string) (element.Agent, error) {
	el, err := dir.LookupString(idStr)
	if err != nil {
		return nil, err
	}
	agent, ok := el.(element.Agent)
	if !ok {
		return nil, fmt.Errorf("sync: %s is owned locally but is not an Agent: %w", idStr, mabmerr.ErrUnknownElement)
	}
	return agent, nil
}

// mergeAnswerMaps unions a root-gathered set of per-peer answer maps.
// Keys are disjoint by construction (one owner per id), so a later map
// overwriting an earlier one for the same key never actually happens in
// a correct run.
func mergeAnswerMaps(maps []map[string]any) map[string]any {
	full := make(map[string]any)
	for _, m := range maps {
		for k, v := range m {
			full[k] = v
		}
	}
	return full
}

// applyStageC implements Stage C: for every id this process is
// standing-watching or explicitly requested this tick, refresh (or
// construct) its Shadow from full. An id present in requests this tick
// but absent from full means no peer claimed ownership of it — a
// malformed id.
func applyStageC(full map[string]any, incomingWatches map[string]struct{}, requests map[string]requestMode, dir *directory.Directory, gen *generator.Generator) error {
	for idStr := range requests {
		if _, ok := full[idStr]; !ok {
			return fmt.Errorf("sync: no peer answered request for %s: %w", idStr, mabmerr.ErrMalformedID)
		}
	}

	for idStr, payload := range full {
		_, watched := incomingWatches[idStr]
		_, requested := requests[idStr]
		if !watched && !requested {
			continue
		}

		if el, err := dir.LookupString(idStr); err == nil {
			shadow, ok := el.(element.Shadow)
			if !ok {
				continue
			}
			shadow.Apply(payload)
			continue
		}

		id, err := identity.Decode(idStr)
		if err != nil {
			return err
		}
		factory, err := gen.ShadowFactoryFor(id.Type)
		if err != nil {
			return err
		}
		dir.Insert(factory(id, payload))
	}
	return nil
}
