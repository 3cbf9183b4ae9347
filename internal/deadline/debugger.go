package deadline

import (
	"bufio"
	"os"
	"strings"
)

// DebuggerAttached reports whether a tracer is attached to the process. It is
// a variable so tests can stub it.
var DebuggerAttached = tracerAttached

const procStatus = "/proc/self/status"

// tracerAttached reads TracerPid from /proc; it returns false where /proc is
// not available.
func tracerAttached() bool {
	f, err := os.Open(procStatus)
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "TracerPid:") {
			continue
		}
		pid := strings.TrimSpace(strings.TrimPrefix(line, "TracerPid:"))
		return pid != "" && pid != "0"
	}
	return false
}
