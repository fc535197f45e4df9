// ./main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/cmd"
	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/observability"
)

const panicLogFile = "panic.log"

// Allows mocking in tests.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
)

// main is the entry point for the dkm-e2e CLI.
func main() {
	defer handlePanic()

	// SIGINT/SIGTERM stop the run before the next test; reports are still written.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		stop()
		osExit(1)
	}
}

// handlePanic writes the panic and its stack to panic.log before exiting.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(panicMessage), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
	} else {
		fmt.Fprintf(os.Stderr, "dkm-e2e crashed. Details logged to %s\n", panicLogFile)
	}
	osExit(2)
}
