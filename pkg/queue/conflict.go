package queue

// Strategy selects how ResolveConflict reconciles local and server state.
type Strategy string

const (
	// StrategyLocal keeps the local value unchanged.
	StrategyLocal Strategy = "local"

	// StrategyServer keeps the server value unchanged. This is the
	// default: the server saw the replay, so it owns the truth.
	StrategyServer Strategy = "server"

	// StrategyMerge shallow-unions the two values.
	StrategyMerge Strategy = "merge"
)

// ResolveConflict reconciles a locally queued value against server state
// that changed while the client was offline. It is a pure helper for
// callers replaying the queue; the queue never invokes it automatically.
//
// Merge semantics are shallow: for objects, local keys overwrite server
// keys; for arrays, the result is the server items plus local-only items
// identified by their "id" field; for primitives and mismatched shapes the
// server value wins.
func ResolveConflict(local, server any, strategy Strategy) any {
	switch strategy {
	case StrategyLocal:
		return local
	case StrategyMerge:
		return merge(local, server)
	default:
		return server
	}
}

func merge(local, server any) any {
	switch localVal := local.(type) {
	case map[string]any:
		serverVal, ok := server.(map[string]any)
		if !ok {
			return server
		}
		out := make(map[string]any, len(serverVal)+len(localVal))
		for k, v := range serverVal {
			out[k] = v
		}
		for k, v := range localVal {
			out[k] = v
		}
		return out

	case []any:
		serverVal, ok := server.([]any)
		if !ok {
			return server
		}
		seen := make(map[any]bool, len(serverVal))
		for _, item := range serverVal {
			if id, ok := itemID(item); ok {
				seen[id] = true
			}
		}
		out := make([]any, 0, len(serverVal)+len(localVal))
		out = append(out, serverVal...)
		for _, item := range localVal {
			id, ok := itemID(item)
			if ok && seen[id] {
				continue
			}
			out = append(out, item)
		}
		return out

	default:
		return server
	}
}

func itemID(item any) (any, bool) {
	obj, ok := item.(map[string]any)
	if !ok {
		return nil, false
	}
	id, ok := obj["id"]
	return id, ok
}
