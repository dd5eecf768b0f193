package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/burrow/boundary"
	"github.com/deepnoodle-ai/burrow/bytecode"
	"github.com/deepnoodle-ai/burrow/op"
)

// writeProgram saves x = ext(1); y = ext(2); x + y as compiled bytecode.
func writeProgram(t *testing.T, dir string) string {
	t.Helper()
	b := bytecode.NewBuilder("main")
	b.At(1, 1).LoadGlobal("ext").LoadConst(int64(1)).Emit(op.Call, 1).StoreGlobal("x")
	b.At(2, 1).LoadGlobal("ext").LoadConst(int64(2)).Emit(op.Call, 1).StoreGlobal("y")
	b.At(3, 1).LoadGlobal("x").LoadGlobal("y").Emit(op.BinaryOp, int(op.Add)).Emit(op.ReturnValue)
	data, err := bytecode.Marshal(b.MustBuild())
	require.NoError(t, err)
	path := filepath.Join(dir, "main.bbc")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--no-color"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestRunAndResume(t *testing.T) {
	dir := t.TempDir()
	prog := writeProgram(t, dir)
	dump := filepath.Join(dir, "run.dump")

	out, err := execute(t, "run", prog, "--ext", "ext", "--save", dump)
	require.NoError(t, err)
	require.Equal(t, "function call #1: ext(1)\n", out)

	out, err = execute(t, "inspect", dump, "-o", "json")
	require.NoError(t, err)
	var view progressView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.Equal(t, "function_call", view.Kind)
	require.Equal(t, "ext", view.Name)
	require.Equal(t, uint64(1), view.CallID)

	out, err = execute(t, "resume", dump, "--return", "10")
	require.NoError(t, err)
	require.Equal(t, "function call #2: ext(2)\n", out)

	out, err = execute(t, "resume", dump, "--return", "20")
	require.NoError(t, err)
	require.Equal(t, "30\n", out)

	// A completed run writes no dump, so the file still holds the second call.
	out, err = execute(t, "resume", dump, "--return", "5")
	require.NoError(t, err)
	require.Equal(t, "15\n", out)
}

func TestRunDeniesUndeclaredExternal(t *testing.T) {
	dir := t.TempDir()
	prog := writeProgram(t, dir)
	_, err := execute(t, "run", prog, "--save", filepath.Join(dir, "run.dump"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "ext")
}

func TestResumeWithRaise(t *testing.T) {
	dir := t.TempDir()
	prog := writeProgram(t, dir)
	dump := filepath.Join(dir, "run.dump")
	_, err := execute(t, "run", prog, "--ext", "ext", "--save", dump)
	require.NoError(t, err)

	_, err = execute(t, "resume", dump, "--raise", "ValueError: no data")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ValueError: no data")
}

func TestPreparedRunner(t *testing.T) {
	dir := t.TempDir()
	prog := writeProgram(t, dir)
	runner := filepath.Join(dir, "runner.dump")
	dump := filepath.Join(dir, "run.dump")

	out, err := execute(t, "run", prog, "--ext", "ext", "--prepare", runner)
	require.NoError(t, err)
	require.Empty(t, out)

	out, err = execute(t, "inspect", runner)
	require.NoError(t, err)
	require.Equal(t, "unstarted runner: inputs [], externals [ext]\n", out)

	out, err = execute(t, "run", runner, "--save", dump)
	require.NoError(t, err)
	require.Equal(t, "function call #1: ext(1)\n", out)
}

func TestDis(t *testing.T) {
	prog := writeProgram(t, t.TempDir())
	out, err := execute(t, "dis", prog)
	require.NoError(t, err)
	require.Contains(t, out, "| OFFSET | LINE |")
	require.Contains(t, out, "LOAD_GLOBAL")
	require.Contains(t, out, "ext")

	out, err = execute(t, "dis", prog, "--stats")
	require.NoError(t, err)
	require.Contains(t, out, "instructions: 23\n")
	require.Contains(t, out, "functions: 0 (async 0, generators 0)\n")

	_, err = execute(t, "dis", prog, "--func", "missing")
	require.ErrorContains(t, err, `function "missing" not found`)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	prog := writeProgram(t, dir)
	cfg := filepath.Join(dir, "burrow.toml")
	require.NoError(t, os.WriteFile(cfg, []byte("externals = [\"ext\"]\n\n[output]\nformat = \"json\"\n"), 0o644))

	out, err := execute(t, "--config", cfg, "run", prog, "--save", filepath.Join(dir, "run.dump"))
	require.NoError(t, err)
	var view progressView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.Equal(t, "function_call", view.Kind)
	require.Equal(t, []any{float64(1)}, view.Args)
}

// useHome points ~ at dir for the rest of the test.
func useHome(t *testing.T, dir string) {
	t.Helper()
	t.Setenv("HOME", dir)
	homedir.DisableCache = true
	homedir.Reset()
	t.Cleanup(func() {
		homedir.DisableCache = false
		homedir.Reset()
	})
}

func TestOutputFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	useHome(t, dir)
	prog := writeProgram(t, dir)
	t.Setenv("BURROW_OUTPUT", "json")

	out, err := execute(t, "run", prog, "--ext", "ext", "--save", filepath.Join(dir, "run.dump"))
	require.NoError(t, err)
	var view progressView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.Equal(t, "function_call", view.Kind)

	out, err = execute(t, "-o", "text", "run", prog, "--ext", "ext", "--save", filepath.Join(dir, "run.dump"))
	require.NoError(t, err)
	require.Equal(t, "function call #1: ext(1)\n", out)
}

func TestHomeConfig(t *testing.T) {
	dir := t.TempDir()
	useHome(t, dir)
	prog := writeProgram(t, dir)
	dump := filepath.Join(dir, "run.dump")

	_, err := execute(t, "run", prog, "--save", dump)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".burrow.toml"), []byte("externals = [\"ext\"]\n"), 0o644))
	out, err := execute(t, "run", prog, "--save", dump)
	require.NoError(t, err)
	require.Equal(t, "function call #1: ext(1)\n", out)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.toml"), []byte("[output]\nformat = \"json\"\n"), 0o644))
	out, err = execute(t, "--config", "~/other.toml", "run", prog, "--ext", "ext", "--save", dump)
	require.NoError(t, err)
	require.True(t, json.Valid([]byte(out)))
}

func TestBadLogLevelFromEnvironment(t *testing.T) {
	useHome(t, t.TempDir())
	t.Setenv("BURROW_LOG_LEVEL", "loud")
	_, err := execute(t, "dis", writeProgram(t, t.TempDir()))
	require.ErrorContains(t, err, `invalid log level "loud"`)
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		input string
		want  boundary.Value
	}{
		{"42", boundary.Int(42)},
		{"1.5", boundary.Float(1.5)},
		{"true", boundary.Bool(true)},
		{"null", boundary.None{}},
		{`"quoted"`, boundary.Str("quoted")},
		{"plain text", boundary.Str("plain text")},
		{"[1, \"a\"]", boundary.List{boundary.Int(1), boundary.Str("a")}},
		{`{"b": 2, "a": 1}`, boundary.Dict{
			{Key: boundary.Str("a"), Value: boundary.Int(1)},
			{Key: boundary.Str("b"), Value: boundary.Int(2)},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseValue(tt.input)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestInputValues(t *testing.T) {
	values, err := inputValues([]string{"a", "b"}, []string{"b=2", "a=x"})
	require.NoError(t, err)
	require.Equal(t, []boundary.Value{boundary.Str("x"), boundary.Int(2)}, values)

	_, err = inputValues([]string{"a"}, nil)
	require.ErrorContains(t, err, `missing input "a"`)

	_, err = inputValues(nil, []string{"z=1"})
	require.ErrorContains(t, err, `unknown input "z"`)

	_, err = inputValues(nil, []string{"novalue"})
	require.Error(t, err)
}

func TestParseException(t *testing.T) {
	require.Equal(t, boundary.Exception{Type: "KeyError", Message: "k"}, parseException("KeyError: k"))
	require.Equal(t, boundary.Exception{Type: "RuntimeError"}, parseException("RuntimeError"))
}
