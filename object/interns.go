package object

// Interns is the string intern table of a run. Interned strings are
// immediates; constants, attribute names and identifiers are interned when
// code is loaded.
type Interns struct {
	strs  []string
	index map[string]StrID
}

// NewInterns returns an empty intern table.
func NewInterns() *Interns {
	return &Interns{index: map[string]StrID{}}
}

// Intern returns the id of s, adding it if needed.
func (in *Interns) Intern(s string) StrID {
	if id, ok := in.index[s]; ok {
		return id
	}
	id := StrID(len(in.strs))
	in.strs = append(in.strs, s)
	in.index[s] = id
	return id
}

// Lookup returns the id of s if it is interned.
func (in *Interns) Lookup(s string) (StrID, bool) {
	id, ok := in.index[s]
	return id, ok
}

// Get returns the string with the given id.
func (in *Interns) Get(id StrID) string {
	return in.strs[id]
}

// Len returns the number of interned strings.
func (in *Interns) Len() int {
	return len(in.strs)
}

func (in *Interns) all() []string {
	out := make([]string, len(in.strs))
	copy(out, in.strs)
	return out
}

func internsFrom(strs []string) *Interns {
	in := &Interns{strs: make([]string, len(strs)), index: make(map[string]StrID, len(strs))}
	for i, s := range strs {
		in.strs[i] = s
		in.index[s] = StrID(i)
	}
	return in
}
