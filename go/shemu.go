// Package shemu drives shellcode emulation runs for fuzzing: it builds the
// synthetic machine context for an input, hands it to an Engine once and
// tears it down again, from a persistent loop, a single-shot fuzz entry
// point or a file replay.
package shemu

import (
	"fmt"
	"os"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/lunixbochs/shemufuzz/go/log"
)

// Abort terminates the process abnormally on a harness resource failure.
// The error goes to l, when there is one, and to stderr. The traceback mode
// is switched to "crash" so the runtime raises SIGABRT after printing the
// panic, which fuzzers record as a crash.
func Abort(l *log.Logger, err error) {
	if l != nil {
		l.Error("harness abort", zap.Error(err))
		l.Sync()
	}
	fmt.Fprintf(os.Stderr, "[-] %s\n", err)
	debug.SetTraceback("crash")
	panic(err)
}
