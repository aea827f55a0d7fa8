package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/bazelment/agentbridge/codex"
)

// terminalPrompter asks for permission on the terminal. It shares stdin
// with the REPL; prompts only fire while a turn is running, when the REPL
// is not reading.
type terminalPrompter struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newTerminalPrompter(in *bufio.Reader, out io.Writer) *terminalPrompter {
	return &terminalPrompter{in: in, out: out}
}

func (p *terminalPrompter) Prompt(ctx context.Context, req codex.PermissionRequest) (codex.PermissionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "\npermission: %s", req.Tool)
	if len(req.Command) > 0 {
		fmt.Fprintf(p.out, " %s", strings.Join(req.Command, " "))
	} else if len(req.Input) > 0 {
		fmt.Fprintf(p.out, " %s", string(req.Input))
	}
	if req.Reason != "" {
		fmt.Fprintf(p.out, "\n  reason: %s", req.Reason)
	}
	fmt.Fprint(p.out, "\nallow? [y]es / [a]lways / [n]o: ")

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- answer{line: line, err: err}
	}()

	select {
	case ans := <-ch:
		if ans.err != nil {
			return codex.PermissionResponse{}, ans.err
		}
		switch strings.ToLower(strings.TrimSpace(ans.line)) {
		case "y", "yes":
			return codex.PermissionResponse{Approved: true}, nil
		case "a", "always":
			return codex.PermissionResponse{Approved: true, ForSession: true}, nil
		default:
			return codex.PermissionResponse{}, nil
		}
	case <-ctx.Done():
		fmt.Fprintln(p.out, "(request expired)")
		return codex.PermissionResponse{}, ctx.Err()
	}
}
