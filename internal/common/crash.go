package common

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// crashDir receives fatal panic reports. InstallCrashHandler can point it at
// the configured log directory.
var crashDir = "./logs"

// InstallCrashHandler prepares the crash report directory. Call it first in
// main so a panic during startup still leaves a trace.
func InstallCrashHandler(logDir string) {
	if logDir != "" {
		crashDir = logDir
	}
	if err := os.MkdirAll(crashDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "crash handler: cannot create %s: %v\n", crashDir, err)
	}
}

// WriteCrashFile dumps a post-mortem report for a panic and returns the file
// path. It writes with plain os calls; the process may be about to die and
// buffered IO would never flush.
func WriteCrashFile(panicVal interface{}, stackTrace string) string {
	now := time.Now()
	path := filepath.Join(crashDir, fmt.Sprintf("crash-%s.log", now.Format("2006-01-02T15-04-05")))

	var b strings.Builder
	section := func(title string) {
		fmt.Fprintf(&b, "=== %s ===\n", title)
	}

	section("VIGIL CRASH REPORT")
	fmt.Fprintf(&b, "Time: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "Version: %s\n\n", GetFullVersion())

	section("PANIC")
	fmt.Fprintf(&b, "%v\n\n", panicVal)

	section("STACK")
	b.WriteString(stackTrace)
	b.WriteString("\n")

	section("ALL GOROUTINES")
	b.WriteString(GetAllGoroutineStacks())
	b.WriteString("\n")

	section("RUNTIME")
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	fmt.Fprintf(&b, "Goroutines: %d\n", runtime.NumGoroutine())
	fmt.Fprintf(&b, "GOOS/GOARCH: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&b, "HeapAlloc: %d MB\n", mem.Alloc/1024/1024)
	fmt.Fprintf(&b, "Sys: %d MB\n", mem.Sys/1024/1024)
	fmt.Fprintf(&b, "NumGC: %d\n", mem.NumGC)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "crash handler: cannot create report: %v\n%s", err, b.String())
		return ""
	}
	if _, err := file.WriteString(b.String()); err != nil {
		fmt.Fprintf(os.Stderr, "crash handler: report write failed: %v\n%s", err, b.String())
	}
	file.Sync()
	file.Close()

	fmt.Fprintf(os.Stderr, "\n!!! FATAL CRASH - report saved to %s !!!\nPanic: %v\n", path, panicVal)
	return path
}

// GetAllGoroutineStacks captures every goroutine's stack, growing the buffer
// until the dump fits.
func GetAllGoroutineStacks() string {
	buf := make([]byte, 64*1024)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return string(buf[:n])
		}
		buf = make([]byte, len(buf)*2)
	}
}
