package workflow

// Results is an order-preserving map from node name (and id) to the
// value it last produced. Rewriting an existing key evicts the old
// entry and re-appends, so insertion order is always recency order and
// the last entry is the most recently produced value.
//
// Most map types do not provide move-to-end rewrite semantics, so this
// is implemented explicitly as a key vector plus index map. Not safe
// for concurrent use; a Context is owned by exactly one run goroutine.
type Results struct {
	keys  []string
	index map[string]int
	vals  map[string]any
}

// NewResults returns an empty results map.
func NewResults() *Results {
	return &Results{
		index: make(map[string]int),
		vals:  make(map[string]any),
	}
}

// Set stores value under key. If the key already exists its entry is
// removed first, so the key ends up last in iteration order.
func (r *Results) Set(key string, value any) {
	if pos, ok := r.index[key]; ok {
		r.keys = append(r.keys[:pos], r.keys[pos+1:]...)
		for i := pos; i < len(r.keys); i++ {
			r.index[r.keys[i]] = i
		}
	}
	r.index[key] = len(r.keys)
	r.keys = append(r.keys, key)
	r.vals[key] = value
}

// Get returns the value stored under key.
func (r *Results) Get(key string) (any, bool) {
	v, ok := r.vals[key]
	return v, ok
}

// Last returns the most recently written entry.
func (r *Results) Last() (key string, value any, ok bool) {
	if len(r.keys) == 0 {
		return "", nil, false
	}
	key = r.keys[len(r.keys)-1]
	return key, r.vals[key], true
}

// Len returns the number of entries.
func (r *Results) Len() int {
	return len(r.keys)
}

// Keys returns the keys in insertion (= recency) order.
func (r *Results) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Map returns a plain map copy of the entries. Ordering is lost; use
// Keys when order matters.
func (r *Results) Map() map[string]any {
	out := make(map[string]any, len(r.vals))
	for k, v := range r.vals {
		out[k] = v
	}
	return out
}
