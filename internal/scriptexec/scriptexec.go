// Package scriptexec is the reference capability.ScriptExecutor: a
// Starlark interpreter (go.starlark.net) with a persistent global
// namespace across calls, the way the karl kernel example keeps one
// interpreter.Environment alive for the life of the process instead of
// creating a fresh one per execution.
package scriptexec

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"go.starlark.net/starlark"

	"github.com/llmkernel/kernel/internal/capability"
)

// Executor evaluates Starlark code. It is not safe to call Execute
// from more than one goroutine concurrently — the kernel message loop
// owns it and never spawns it, per capability.ScriptExecutor.
type Executor struct {
	globals starlark.StringDict

	mu     sync.Mutex
	thread *starlark.Thread
}

// New creates an Executor with an empty global namespace.
func New() *Executor {
	return &Executor{globals: make(starlark.StringDict)}
}

// Execute runs code against the persistent namespace. A single bare
// expression (e.g. "1 + 1") is evaluated and its value becomes the
// result text; anything containing statements is executed for effect,
// and the result text is whatever the code assigned to "_", if
// anything — the same convention the original Jupyter protocol
// documents for non-Python kernels that have no separate REPL-eval
// mode.
func (e *Executor) Execute(ctx context.Context, code string) capability.ExecResult {
	var out bytes.Buffer
	thread := &starlark.Thread{
		Name:  "execute",
		Print: func(_ *starlark.Thread, msg string) { fmt.Fprintln(&out, msg) },
	}
	e.mu.Lock()
	e.thread = thread
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.thread = nil
		e.mu.Unlock()
	}()

	go func() {
		<-ctx.Done()
		if ctx.Err() != nil {
			thread.Cancel("execution cancelled")
		}
	}()

	if value, err := starlark.Eval(thread, "<execute>", code, e.globals); err == nil {
		return capability.ExecResult{Text: resultText(value), Stream: out.String()}
	}

	globals, err := starlark.ExecFile(thread, "<execute>", code, e.globals)
	if err != nil {
		return capability.ExecResult{Stream: out.String(), Err: err}
	}
	e.globals = globals

	text := ""
	if last, ok := globals["_"]; ok {
		text = resultText(last)
	}
	return capability.ExecResult{Text: text, Stream: out.String()}
}

func resultText(v starlark.Value) string {
	if v == nil || v == starlark.None {
		return ""
	}
	return v.String()
}

// Interrupt cancels the in-flight Execute call, if any.
func (e *Executor) Interrupt() {
	e.mu.Lock()
	thread := e.thread
	e.mu.Unlock()
	if thread != nil {
		thread.Cancel("interrupted")
	}
}

// Language reports this executor's kernel_info language_info block.
func (e *Executor) Language() capability.LanguageInfo {
	return capability.LanguageInfo{
		Name:          "starlark",
		Version:       "1.0",
		Mimetype:      "text/x-python",
		FileExtension: ".star",
	}
}
