package codec

// compactKeyMap maps verbose HUD keys to their short aliases. The table is
// fixed: both sides of the wire must agree on it. Keys absent from the table
// pass through unchanged.
var compactKeyMap = map[string]string{
	// Top-level sections
	"system": "sys",
	"self":   "me",
	"meta":   "m",
	"rooms":  "r",

	// System section
	"directives": "dir",

	// Self section. The identity alias deliberately avoids "id": room and
	// message entries carry raw "id" keys that must pass through untouched.
	"identity":       "idn",
	"knowledge":      "k",
	"memory_used":    "mem",
	"recent_actions": "acts",

	// Identity fields
	"name":  "n",
	"model": "mod",
	"seed":  "sd",
	"role":  "rl",

	// Meta section
	"instructions":      "ins",
	"available_actions": "aa",

	// Room fields
	"members":                 "mbr",
	"attention_pct":           "att",
	"time_since_last":         "tsl",
	"word_budget":             "wb",
	"messages":                "msg",
	"is_self_room":            "self",
	"billboard":               "bb",
	"my_keys":                 "keys",
	"pending_access_requests": "par",

	// Message fields
	"timestamp": "ts",
	"sender":    "s",
	"content":   "c",
	"type":      "t",
	"reply_to":  "rt",
	"reactions": "rx",

	// Action fields
	"actions":    "a",
	"path":       "p",
	"value":      "v",
	"message_id": "mid",
	"reaction":   "re",
	"room_id":    "rid",
	"agent_id":   "aid",
	"message":    "mg",
	"request_id": "reqid",
	"agent_type": "aty",
	"in_room_id": "irid",
}

// compactKeyReverse is the inverse table, used when decoding.
var compactKeyReverse = func() map[string]string {
	m := make(map[string]string, len(compactKeyMap))
	for k, v := range compactKeyMap {
		m[v] = k
	}
	return m
}()

// compactKeys recursively replaces verbose keys with their short aliases.
func compactKeys(v any) any {
	switch c := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(c))
		for k, val := range c {
			short, ok := compactKeyMap[k]
			if !ok {
				short = k
			}
			out[short] = compactKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(c))
		for i, item := range c {
			out[i] = compactKeys(item)
		}
		return out
	default:
		return v
	}
}

// expandKeys recursively replaces short aliases with their verbose keys.
func expandKeys(v any) any {
	switch c := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(c))
		for k, val := range c {
			long, ok := compactKeyReverse[k]
			if !ok {
				long = k
			}
			out[long] = expandKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(c))
		for i, item := range c {
			out[i] = expandKeys(item)
		}
		return out
	default:
		return v
	}
}
