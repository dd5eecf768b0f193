package vm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/burrow/boundary"
	"github.com/deepnoodle-ai/burrow/bytecode"
	"github.com/deepnoodle-ai/burrow/capability"
	"github.com/deepnoodle-ai/burrow/errz"
	"github.com/deepnoodle-ai/burrow/op"
)

var client = boundary.Proxy{ID: 1, TypeName: "Client"}

func proxyCall(b *bytecode.Builder) {
	b.LoadGlobal("p").LoadConst(int64(1)).CallMethod("get", 1).Emit(op.ReturnValue)
}

func proxyAttrCall(b *bytecode.Builder) {
	b.LoadGlobal("p").LoadAttr("get").LoadConst(int64(1)).Emit(op.Call, 1).Emit(op.ReturnValue)
}

func TestProxyMethodDenied(t *testing.T) {
	for name, body := range map[string]func(*bytecode.Builder){"method": proxyCall, "attr": proxyAttrCall} {
		t.Run(name, func(t *testing.T) {
			vm := New(WithCapabilities(capability.None()))
			require.NoError(t, vm.SetGlobal("p", client))
			_, err := vm.Begin(program(body))
			var denied *errz.PermissionDenied
			require.True(t, errors.As(err, &denied))
			require.Equal(t, "proxy", denied.Operation)
			require.Equal(t, "Client.get", denied.Name)
		})
	}
}

func TestProxyMethodCall(t *testing.T) {
	for name, body := range map[string]func(*bytecode.Builder){"method": proxyCall, "attr": proxyAttrCall} {
		t.Run(name, func(t *testing.T) {
			vm := New(WithCapabilities(capability.New(capability.ProxyAccess())))
			require.NoError(t, vm.SetGlobal("p", client))
			s, err := vm.Begin(program(body))
			require.NoError(t, err)
			require.Equal(t, SuspendFunctionCall, s.Kind)
			require.True(t, s.MethodCall)
			require.Equal(t, "get", s.Name)
			require.Equal(t, []boundary.Value{client, boundary.Int(1)}, s.Args)

			s, err = vm.ResumeReturn(boundary.Str("row"))
			require.Equal(t, boundary.Str("row"), complete(t, s, err))
		})
	}
}

func TestWeakrefCallbackOnCollect(t *testing.T) {
	cb := function("cb", []string{"ref"}, func(b *bytecode.Builder) {
		b.Emit(op.LoadFast, 0).StoreGlobal("seen")
		b.Emit(op.Nil).Emit(op.ReturnValue)
	})
	code := program(func(b *bytecode.Builder) {
		b.LoadConst(int64(1)).Emit(op.BuildList, 1).StoreGlobal("obj")
		b.LoadGlobal("weakref").LoadGlobal("obj")
		makeFunction(b, cb).Emit(op.Call, 2).StoreGlobal("w")
		b.Emit(op.Nil).StoreGlobal("obj")
		b.LoadGlobal("gc_collect").Emit(op.Call, 0)
		b.LoadGlobal("seen").LoadGlobal("w").Emit(op.IsOp, 0)
		b.Emit(op.BuildList, 2).Emit(op.ReturnValue)
	})
	s, err := New().Begin(code)
	require.Equal(t, boundary.List{boundary.Int(1), boundary.Bool(true)}, complete(t, s, err))
}

func TestGeneratorSend(t *testing.T) {
	gen := function("echo", nil, func(b *bytecode.Builder) {
		b.LoadConst(int64(1)).Emit(op.YieldValue)
		b.LoadConst(int64(1)).Emit(op.BinaryOp, int(op.Add)).Emit(op.YieldValue).Emit(op.PopTop)
		b.Emit(op.Nil).Emit(op.ReturnValue)
	}, generator)
	code := program(func(b *bytecode.Builder) {
		makeFunction(b, gen).Emit(op.Call, 0).StoreGlobal("g")
		b.LoadGlobal("next").LoadGlobal("g").Emit(op.Call, 1)
		b.LoadGlobal("g").LoadConst(int64(5)).CallMethod("send", 1)
		b.Emit(op.BuildList, 2).Emit(op.ReturnValue)
	})
	s, err := New().Begin(code)
	require.Equal(t, boundary.List{boundary.Int(1), boundary.Int(6)}, complete(t, s, err))
}
