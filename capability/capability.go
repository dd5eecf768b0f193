// Package capability defines the immutable permission sets consulted before
// a run is allowed to hand a request to its host.
package capability

import (
	"sort"
	"strings"
)

// Kind is the class of operation a grant permits.
type Kind uint8

const (
	// KindCallFunction permits calling one named external function.
	KindCallFunction Kind = iota + 1
	// KindCallAny permits calling any external function.
	KindCallAny
	// KindProxyAccess permits method calls on opaque proxy objects.
	KindProxyAccess
	// KindCustom is a host-defined permission. The "os" custom grant gates
	// OS-mediated calls; "*" covers every custom grant.
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindCallFunction:
		return "call"
	case KindCallAny:
		return "call_any"
	case KindProxyAccess:
		return "proxy"
	case KindCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Wildcard is the custom grant name that covers every custom grant.
const Wildcard = "*"

// Grant is a single permission.
type Grant struct {
	Kind Kind   `cbor:"k"`
	Name string `cbor:"n,omitempty"`
}

// CallFunction permits calling the named external function.
func CallFunction(name string) Grant {
	return Grant{Kind: KindCallFunction, Name: name}
}

// CallAny permits calling every external function.
func CallAny() Grant {
	return Grant{Kind: KindCallAny}
}

// ProxyAccess permits method calls on proxy objects.
func ProxyAccess() Grant {
	return Grant{Kind: KindProxyAccess}
}

// Custom returns a host-defined grant.
func Custom(name string) Grant {
	return Grant{Kind: KindCustom, Name: name}
}

func (g Grant) String() string {
	if g.Name == "" {
		return g.Kind.String()
	}
	return g.Kind.String() + ":" + g.Name
}

func (g Grant) less(o Grant) bool {
	if g.Kind != o.Kind {
		return g.Kind < o.Kind
	}
	return g.Name < o.Name
}

// Set is an immutable collection of grants. The zero value grants nothing.
type Set struct {
	grants []Grant
}

// New returns a set holding the given grants.
func New(grants ...Grant) Set {
	gs := make([]Grant, 0, len(grants))
	gs = append(gs, grants...)
	sort.Slice(gs, func(i, j int) bool { return gs[i].less(gs[j]) })
	out := gs[:0]
	for i, g := range gs {
		if i > 0 && g == gs[i-1] {
			continue
		}
		out = append(out, g)
	}
	return Set{grants: out}
}

// Unrestricted returns a set allowing every operation.
func Unrestricted() Set {
	return New(CallAny(), ProxyAccess(), Custom(Wildcard))
}

// None returns a set that denies everything.
func None() Set {
	return Set{}
}

func (s Set) has(g Grant) bool {
	i := sort.Search(len(s.grants), func(i int) bool { return !s.grants[i].less(g) })
	return i < len(s.grants) && s.grants[i] == g
}

// Covers reports whether the set permits everything the grant permits.
func (s Set) Covers(g Grant) bool {
	if s.has(g) {
		return true
	}
	switch g.Kind {
	case KindCallFunction:
		return s.has(CallAny())
	case KindCustom:
		return s.has(Custom(Wildcard))
	}
	return false
}

// AllowsCall reports whether the named external function may be called.
func (s Set) AllowsCall(name string) bool {
	return s.Covers(CallFunction(name))
}

// AllowsProxy reports whether proxy method calls are allowed.
func (s Set) AllowsProxy() bool {
	return s.has(ProxyAccess())
}

// AllowsCustom reports whether the named custom permission is held.
func (s Set) AllowsCustom(name string) bool {
	return s.Covers(Custom(name))
}

// AllowsOS reports whether OS-mediated calls are allowed.
func (s Set) AllowsOS() bool {
	return s.AllowsCustom("os") || s.has(CallAny())
}

// Restrict returns the subset of the requested grants that this set covers.
// The result never permits anything the receiver does not.
func (s Set) Restrict(grants ...Grant) Set {
	kept := make([]Grant, 0, len(grants))
	for _, g := range grants {
		if s.Covers(g) {
			kept = append(kept, g)
		}
	}
	return New(kept...)
}

// IsSubsetOf reports whether every grant in the set is covered by parent.
func (s Set) IsSubsetOf(parent Set) bool {
	for _, g := range s.grants {
		if !parent.Covers(g) {
			return false
		}
	}
	return true
}

// Grants returns a copy of the grants in canonical order.
func (s Set) Grants() []Grant {
	out := make([]Grant, len(s.grants))
	copy(out, s.grants)
	return out
}

// Len returns the number of grants.
func (s Set) Len() int {
	return len(s.grants)
}

func (s Set) String() string {
	parts := make([]string, len(s.grants))
	for i, g := range s.grants {
		parts[i] = g.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
