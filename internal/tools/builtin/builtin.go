// Package builtin registers the minimal reference tool set the stdio
// presentation adapter needs to drive an end-to-end turn and exercise the
// Shell Subsystem: the protocol-level stay_silent tool, a cooperative
// wait, a small sandbox-confined file surface, and run_shell/
// interrupt_shell against the live shell worker. Concrete tool
// implementations beyond their contract (web fetch, search, skills) are
// out of scope per spec.md §1; this package exists only so `paw serve`
// has something to call, not as a complete tool catalog.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hujiyo/Paw-sub000/internal/sandbox"
	"github.com/hujiyo/Paw-sub000/internal/shell"
	"github.com/hujiyo/Paw-sub000/internal/tools"
)

// shellCategory marks a tool entry whose dispatch should refresh the live
// shell snapshot chunk; the Turn Engine checks for this exact category
// name after every dispatch (internal/agent/engine.go's shellToolCategory).
const shellCategory = "shell"

// Register adds the reference tool set to registry, resolving file paths
// through resolver and shell commands through worker (nil disables the
// shell tools entirely, leaving the shell subsystem unreachable from the
// turn loop — callers that don't want an interactive shell should pass
// nil rather than a Shell they never Open).
func Register(registry *tools.Registry, resolver sandbox.Resolver, worker *shell.Shell) error {
	entries := []*tools.Entry{
		{
			Name:        "stay_silent",
			Description: "Produce no visible reply this turn. Use when no response is warranted.",
			Schema:      raw(`{"type":"object","properties":{}}`),
			Enabled:     true,
			Category:    "control",
			Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
				return "", nil
			},
		},
		{
			Name:        "wait",
			Description: "Pause before continuing, e.g. to let a background shell command keep running.",
			Schema:      raw(`{"type":"object","properties":{"seconds":{"type":"number"}},"required":["seconds"]}`),
			Enabled:     true,
			Category:    "control",
			Handler:     handleWait,
		},
		{
			Name:        "read_file",
			Description: "Read a UTF-8 text file from the workspace.",
			Schema:      raw(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
			Enabled:     true,
			Category:    "file",
			Handler:     handleReadFile(resolver),
		},
		{
			Name:        "write_file",
			Description: "Write a UTF-8 text file in the workspace, creating parent directories as needed.",
			Schema:      raw(`{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`),
			Enabled:     true,
			Category:    "file",
			Handler:     handleWriteFile(resolver),
		},
		{
			Name:        "list_files",
			Description: "List the entries of a workspace directory.",
			Schema:      raw(`{"type":"object","properties":{"path":{"type":"string"}}}`),
			Enabled:     true,
			Category:    "file",
			Handler:     handleListFiles(resolver),
		},
	}
	if worker != nil {
		entries = append(entries,
			&tools.Entry{
				Name:        "run_shell",
				Description: "Send a command to the persistent interactive shell and return its current screen.",
				Schema:      raw(`{"type":"object","properties":{"command":{"type":"string"}},"required":["command"]}`),
				Enabled:     true,
				Category:    shellCategory,
				Handler:     handleRunShell(worker),
			},
			&tools.Entry{
				Name:        "interrupt_shell",
				Description: "Send an interrupt to the running shell command (like Ctrl-C).",
				Schema:      raw(`{"type":"object","properties":{}}`),
				Enabled:     true,
				Category:    shellCategory,
				Handler:     handleInterruptShell(worker),
			},
		)
	}
	for _, e := range entries {
		if err := registry.Register(e); err != nil {
			return fmt.Errorf("register builtin tool %s: %w", e.Name, err)
		}
	}
	return nil
}

func raw(s string) json.RawMessage {
	return json.RawMessage(s)
}

type waitArgs struct {
	Seconds float64 `json:"seconds"`
}

func handleWait(ctx context.Context, args json.RawMessage) (any, error) {
	var a waitArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if a.Seconds < 0 {
		a.Seconds = 0
	}
	d := time.Duration(a.Seconds * float64(time.Second))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return fmt.Sprintf("waited %.1fs", a.Seconds), nil
}

type pathArgs struct {
	Path string `json:"path"`
}

func handleReadFile(resolver sandbox.Resolver) tools.Handler {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var a pathArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		data, err := os.ReadFile(resolver.Resolve(a.Path))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", a.Path, err)
		}
		return string(data), nil
	}
}

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func handleWriteFile(resolver sandbox.Resolver) tools.Handler {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var a writeFileArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		target := resolver.Resolve(a.Path)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, fmt.Errorf("create parent directories: %w", err)
		}
		if err := os.WriteFile(target, []byte(a.Content), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", a.Path, err)
		}
		return fmt.Sprintf("wrote %d bytes to %s", len(a.Content), a.Path), nil
	}
}

// shellOutputSettle is how long run_shell waits after writing a command
// before reading back the screen, letting fast commands' output land in
// the snapshot before the tool result is built.
const shellOutputSettle = 400 * time.Millisecond

type shellCommandArgs struct {
	Command string `json:"command"`
}

func handleRunShell(worker *shell.Shell) tools.Handler {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var a shellCommandArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		if shell.IsScreenClearing(a.Command) {
			return "Notice: screen-clearing commands are not sent to the shell, so the terminal snapshot stays intact.", nil
		}
		if err := worker.Enqueue(ctx, a.Command, shellOutputSettle); err != nil {
			return nil, fmt.Errorf("run shell command: %w", err)
		}
		return worker.Snapshot(), nil
	}
}

func handleInterruptShell(worker *shell.Shell) tools.Handler {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		if err := worker.Interrupt(); err != nil {
			return nil, fmt.Errorf("interrupt shell: %w", err)
		}
		return worker.Snapshot(), nil
	}
}

func handleListFiles(resolver sandbox.Resolver) tools.Handler {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var a pathArgs
		if len(args) > 0 {
			if err := json.Unmarshal(args, &a); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
		}
		entries, err := os.ReadDir(resolver.Resolve(a.Path))
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", a.Path, err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
		return names, nil
	}
}
