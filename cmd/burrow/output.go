package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/deepnoodle-ai/burrow"
	"github.com/deepnoodle-ai/burrow/boundary"
)

// progressView is the JSON shape of a progress value.
type progressView struct {
	Kind    string         `json:"kind"`
	RunID   string         `json:"run_id"`
	Value   any            `json:"value,omitempty"`
	Name    string         `json:"name,omitempty"`
	Args    []any          `json:"args,omitempty"`
	Kwargs  any            `json:"kwargs,omitempty"`
	CallID  uint64         `json:"call_id,omitempty"`
	Method  bool           `json:"method_call,omitempty"`
	Pending []progressView `json:"pending,omitempty"`
}

func viewOf(p burrow.Progress) progressView {
	v := progressView{RunID: p.RunID().String()}
	switch p := p.(type) {
	case *burrow.Complete:
		v.Kind = "complete"
		v.Value = boundary.ToGo(p.Value)
	case *burrow.FunctionCall:
		v.Kind = "function_call"
		v.Name = p.Name
		v.Args = goArgs(p.Args)
		v.Kwargs = goKwargs(p.Kwargs)
		v.CallID = p.CallID
		v.Method = p.MethodCall
	case *burrow.OsCall:
		v.Kind = "os_call"
		v.Name = p.Function
		v.Args = goArgs(p.Args)
		v.Kwargs = goKwargs(p.Kwargs)
		v.CallID = p.CallID
	case *burrow.ResolveFutures:
		v.Kind = "resolve_futures"
		for _, c := range p.Calls {
			v.Pending = append(v.Pending, progressView{
				Kind:   "future",
				Name:   c.Name,
				Args:   goArgs(c.Args),
				Kwargs: goKwargs(c.Kwargs),
				CallID: c.CallID,
			})
		}
	}
	return v
}

func goArgs(args []boundary.Value) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = boundary.ToGo(a)
	}
	return out
}

func goKwargs(kwargs boundary.Dict) any {
	if len(kwargs) == 0 {
		return nil
	}
	return boundary.ToGo(kwargs)
}

// printProgress renders a progress value in the requested format.
func printProgress(w io.Writer, p burrow.Progress, format string) error {
	switch strings.ToLower(format) {
	case "json":
		data, err := getOutputJSON(viewOf(p))
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
		return nil
	case "", "text":
		if s := describe(p); s != "" {
			fmt.Fprintln(w, s)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

func describe(p burrow.Progress) string {
	switch p := p.(type) {
	case *burrow.Complete:
		if _, ok := p.Value.(boundary.None); ok || p.Value == nil {
			return ""
		}
		return boundary.Format(p.Value)
	case *burrow.FunctionCall:
		kind := "function call"
		if p.MethodCall {
			kind = "method call"
		}
		return fmt.Sprintf("%s #%d: %s", color.CyanString(kind), p.CallID, callText(p.Name, p.Args, p.Kwargs))
	case *burrow.OsCall:
		return fmt.Sprintf("%s #%d: %s", color.CyanString("os call"), p.CallID, callText(p.Function, p.Args, p.Kwargs))
	case *burrow.ResolveFutures:
		var sb strings.Builder
		sb.WriteString(color.CyanString("waiting on %d futures", len(p.Calls)))
		for _, c := range p.Calls {
			fmt.Fprintf(&sb, "\n  #%d: %s", c.CallID, callText(c.Name, c.Args, c.Kwargs))
		}
		return sb.String()
	}
	return fmt.Sprintf("%T", p)
}

func callText(name string, args []boundary.Value, kwargs boundary.Dict) string {
	parts := make([]string, 0, len(args)+len(kwargs))
	for _, a := range args {
		parts = append(parts, boundary.Format(a))
	}
	for _, kv := range kwargs {
		key := boundary.Format(kv.Key)
		if s, ok := kv.Key.(boundary.Str); ok {
			key = string(s)
		}
		parts = append(parts, key+"="+boundary.Format(kv.Value))
	}
	return name + "(" + strings.Join(parts, ", ") + ")"
}
