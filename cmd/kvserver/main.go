// Command kvserver builds a [kvcontext.Context] from the configured data
// directory and blocks until asked to shut down: parse flags, load
// config, hand off to the real work, exit on signal. Dispatch over the
// client protocol and the checkpoint file-serving RPC are external
// collaborators; this entrypoint only ever exercises the storage,
// replication, slot, and checkpoint cores directly, via an optional
// operator REPL.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/peterh/liner"

	"github.com/calvinalkan/kvserver/internal/config"
	"github.com/calvinalkan/kvserver/internal/kvcontext"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	useRepl := hasFlag(args, "--repl")

	cfg, err := config.Load(configFilePath(args), stripLocalFlags(args))
	if err != nil {
		fmt.Fprintln(os.Stderr, "kvserver:", err)
		return 1
	}

	ctx, err := kvcontext.Open(cfg, []string{"db0"}, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kvserver:", err)
		return 1
	}
	defer ctx.Close()

	if useRepl {
		runRepl(ctx)
		return 0
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	return 0
}

// configFilePath extracts an optional --config=path argument, the one flag
// consulted before the rest of argv is parsed as pflags (the config file
// itself must be loaded before flag overrides are applied).
func configFilePath(args []string) string {
	for i, a := range args {
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}

		if v, ok := cutPrefix(a, "--config="); ok {
			return v
		}
	}

	return ""
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):], true
	}

	return "", false
}

func hasFlag(args []string, name string) bool {
	for _, a := range args {
		if a == name {
			return true
		}
	}

	return false
}

// stripLocalFlags removes the flags this entrypoint consumes itself
// (--repl, --config) so the remaining argv parses cleanly as config
// overrides.
func stripLocalFlags(args []string) []string {
	out := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		a := args[i]

		if a == "--repl" {
			continue
		}

		if a == "--config" {
			i++
			continue
		}

		if _, ok := cutPrefix(a, "--config="); ok {
			continue
		}

		out = append(out, a)
	}

	return out
}

// runRepl drives an operator debug console over the Context directly,
// without a full RESP client.
func runRepl(ctx *kvcontext.Context) {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt("kvserver> ")
		if err != nil {
			return
		}

		line.AppendHistory(input)

		if err := dispatchReplCommand(ctx, input); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}
