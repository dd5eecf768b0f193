package capability

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoneDeniesEverything(t *testing.T) {
	s := None()
	require.False(t, s.AllowsCall("ext"))
	require.False(t, s.AllowsProxy())
	require.False(t, s.AllowsCustom("os"))
	require.False(t, s.AllowsOS())
	require.Equal(t, 0, New().Len())
}

func TestUnrestrictedAllowsEverything(t *testing.T) {
	s := Unrestricted()
	require.True(t, s.AllowsCall("anything"))
	require.True(t, s.AllowsProxy())
	require.True(t, s.AllowsCustom("net"))
	require.True(t, s.AllowsOS())
}

func TestNamedCall(t *testing.T) {
	s := New(CallFunction("fetch"), CallFunction("fetch"))
	require.Equal(t, 1, s.Len())
	require.True(t, s.AllowsCall("fetch"))
	require.False(t, s.AllowsCall("store"))
	require.False(t, s.AllowsProxy())
}

func TestRestrictOnlyRemoves(t *testing.T) {
	parent := New(CallFunction("a"), CallFunction("b"), ProxyAccess())
	child := parent.Restrict(CallFunction("a"), CallFunction("c"), CallAny(), Custom("os"))
	require.Equal(t, []Grant{CallFunction("a")}, child.Grants())
	require.True(t, child.IsSubsetOf(parent))
	require.False(t, parent.IsSubsetOf(child))

	wide := Unrestricted().Restrict(CallFunction("x"), Custom("os"))
	require.True(t, wide.AllowsCall("x"))
	require.True(t, wide.AllowsOS())
	require.False(t, wide.AllowsCall("y"))
}

func TestSubsetCoverage(t *testing.T) {
	callAny := New(CallAny())
	require.True(t, New(CallFunction("f")).IsSubsetOf(callAny))
	require.False(t, callAny.IsSubsetOf(New(CallFunction("f"))))
	require.True(t, None().IsSubsetOf(None()))
}

func TestString(t *testing.T) {
	s := New(ProxyAccess(), CallFunction("f"))
	require.Equal(t, "{call:f, proxy}", s.String())
}
