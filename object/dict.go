package object

// DictEntry is one key/value pair of a Dict. Key is the canonical hash key
// of K.
type DictEntry struct {
	Key   string
	K     Value
	Value Value
}

// Dict is an insertion-ordered mapping. The index is rebuilt lazily, so a
// decoded dict needs no fix-up.
type Dict struct {
	Entries []DictEntry
	index   map[string]int
}

func (d *Dict) reindex() {
	d.index = make(map[string]int, len(d.Entries))
	for i, e := range d.Entries {
		d.index[e.Key] = i
	}
}

// Lookup returns the entry position of the canonical key.
func (d *Dict) Lookup(key string) (int, bool) {
	if d.index == nil {
		d.reindex()
	}
	i, ok := d.index[key]
	return i, ok
}

// Get returns the value stored under the canonical key. It is borrowed.
func (d *Dict) Get(key string) (Value, bool) {
	if i, ok := d.Lookup(key); ok {
		return d.Entries[i].Value, true
	}
	return None, false
}

// Set stores k: v, taking ownership of both. When the key was present the
// original key object is kept; the passed key and the previous value are
// returned to be released.
func (d *Dict) Set(key string, k, v Value) (Value, Value, bool) {
	if i, ok := d.Lookup(key); ok {
		old := d.Entries[i].Value
		d.Entries[i].Value = v
		return k, old, true
	}
	d.index[key] = len(d.Entries)
	d.Entries = append(d.Entries, DictEntry{Key: key, K: k, Value: v})
	return None, None, false
}

// Delete removes the canonical key, returning the key and value it held.
func (d *Dict) Delete(key string) (Value, Value, bool) {
	i, ok := d.Lookup(key)
	if !ok {
		return None, None, false
	}
	e := d.Entries[i]
	d.Entries = append(d.Entries[:i], d.Entries[i+1:]...)
	d.reindex()
	return e.K, e.Value, true
}

// Len returns the number of entries.
func (d *Dict) Len() int {
	return len(d.Entries)
}

// SetItem is one member of a Set.
type SetItem struct {
	Key   string
	Value Value
}

// Set is an insertion-ordered set; frozen sets share the representation.
type Set struct {
	Items  []SetItem
	Frozen bool
	index  map[string]int
}

func (s *Set) reindex() {
	s.index = make(map[string]int, len(s.Items))
	for i, item := range s.Items {
		s.index[item.Key] = i
	}
}

// Contains reports whether the canonical key is a member.
func (s *Set) Contains(key string) bool {
	if s.index == nil {
		s.reindex()
	}
	_, ok := s.index[key]
	return ok
}

// Add inserts v, taking ownership. It returns false when the key was
// already present, in which case the caller still owns v.
func (s *Set) Add(key string, v Value) bool {
	if s.Contains(key) {
		return false
	}
	s.index[key] = len(s.Items)
	s.Items = append(s.Items, SetItem{Key: key, Value: v})
	return true
}

// Remove deletes the canonical key, returning the member it held.
func (s *Set) Remove(key string) (Value, bool) {
	if !s.Contains(key) {
		return None, false
	}
	i := s.index[key]
	v := s.Items[i].Value
	s.Items = append(s.Items[:i], s.Items[i+1:]...)
	s.reindex()
	return v, true
}

// Len returns the number of members.
func (s *Set) Len() int {
	return len(s.Items)
}

func (d *Dict) EachRef(fn func(Value)) {
	for _, e := range d.Entries {
		fn(e.K)
		fn(e.Value)
	}
}

func (s *Set) EachRef(fn func(Value)) {
	for _, item := range s.Items {
		fn(item.Value)
	}
}
