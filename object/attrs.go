package object

// Attr is one named attribute.
type Attr struct {
	Name  string
	Value Value
}

// Attrs is an insertion-ordered attribute table.
type Attrs []Attr

// Get returns the named attribute. The value is borrowed.
func (a Attrs) Get(name string) (Value, bool) {
	for _, attr := range a {
		if attr.Name == name {
			return attr.Value, true
		}
	}
	return None, false
}

// Set stores v under name, taking ownership of v. When the name was already
// bound, the previous value is returned for the caller to release.
func (a *Attrs) Set(name string, v Value) (Value, bool) {
	for i := range *a {
		if (*a)[i].Name == name {
			old := (*a)[i].Value
			(*a)[i].Value = v
			return old, true
		}
	}
	*a = append(*a, Attr{Name: name, Value: v})
	return None, false
}

// Delete removes the named attribute, returning its value.
func (a *Attrs) Delete(name string) (Value, bool) {
	for i := range *a {
		if (*a)[i].Name == name {
			old := (*a)[i].Value
			*a = append((*a)[:i], (*a)[i+1:]...)
			return old, true
		}
	}
	return None, false
}

// Names returns the attribute names in insertion order.
func (a Attrs) Names() []string {
	names := make([]string, len(a))
	for i, attr := range a {
		names[i] = attr.Name
	}
	return names
}

func (a Attrs) each(fn func(Value)) {
	for _, attr := range a {
		fn(attr.Value)
	}
}

func (a Attrs) size() int {
	n := 0
	for _, attr := range a {
		n += valueSize + len(attr.Name)
	}
	return n
}

func (a *Attrs) takeAll() []Value {
	out := make([]Value, len(*a))
	for i, attr := range *a {
		out[i] = attr.Value
	}
	*a = nil
	return out
}
