// Package codex drives a codex app-server subprocess over JSON-RPC 2.0 on
// stdio and bridges its protocol onto the agentstream event vocabulary.
//
// The runtime binary is spawned in its own process group, spoken to in
// newline-delimited JSON, and supervised for the whole session: requests are
// multiplexed over one pipe, its approval and pre-execution requests are
// answered by a permission pipeline, and its notifications are translated
// into uniform events that a host consumes one turn at a time.
//
// # Basic Usage
//
//	agent := codex.NewAgent(
//	    codex.WithModel("gpt-5"),
//	    codex.WithWorkingDir("/path/to/project"),
//	)
//	defer agent.Close()
//
//	turn, err := agent.Chat(ctx, "Fix the failing test in parser_test.go")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for {
//	    ev, err := turn.Next(ctx)
//	    if errors.Is(err, codex.ErrTurnComplete) {
//	        break
//	    }
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    switch e := ev.(type) {
//	    case agentstream.TextDeltaEvent:
//	        fmt.Print(e.Delta)
//	    case agentstream.ToolStartEvent:
//	        fmt.Printf("\n[%s]\n", e.Tool)
//	    }
//	}
//
// # Permission Screening
//
// Every tool call passes through the permission gate before the runtime
// executes it. Autonomous mode allows everything, read-only mode blocks
// mutations, and interactive mode prompts through a Prompter:
//
//	agent := codex.NewAgent(
//	    codex.WithPermissionMode(codex.ModeInteractive),
//	    codex.WithPrompter(myPrompter),
//	)
//
// Session approvals ("always allow") are remembered per base command, so
// the same tool is not prompted twice.
//
// # Resume and Reconnect
//
// The agent survives runtime restarts. When the subprocess dies, the next
// Chat reconnects and resumes the previous thread; if the runtime no longer
// knows the thread, a fresh one is started and seeded with a summary of the
// conversation so far. Nothing of this surfaces as an error to the caller.
package codex
