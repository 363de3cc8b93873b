package command

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/shirou/gopsutil/v3/process"
)

// execInfo is the "info" custom command: where
// original_source/libs/commands/commands.c hand-parsed
// /proc/<pid>/{cmdline,status}, this reports the same facts through
// gopsutil so the same dependency backs both info and uinfo. Defaults to
// the calling PID when none is given, a supplement over the original,
// which required an explicit PID (SPEC_FULL.md §5).
func execInfo(ctx RequestContext, args []string, sink *bytes.Buffer) Outcome {
	pid := int32(ctx.ClientPID)
	if len(args) >= 1 {
		parsed, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			fmt.Fprintf(sink, "Usage: info [PID]\n")
			return InvalidCommand
		}
		pid = int32(parsed)
	}

	proc, err := process.NewProcess(pid)
	if err != nil {
		fmt.Fprintf(sink, "info: no such process %d\n", pid)
		return Failed
	}

	fmt.Fprintf(sink, "----- process %d -----\n", pid)

	if cmdline, err := proc.Cmdline(); err == nil {
		fmt.Fprintf(sink, "[%d] Command: %s\n", pid, cmdline)
	} else {
		fmt.Fprintf(sink, "[%d] Command: <unavailable>\n", pid)
	}

	if status, err := proc.Status(); err == nil && len(status) > 0 {
		fmt.Fprintf(sink, "[%d] State: %s\n", pid, status[0])
	}

	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		fmt.Fprintf(sink, "[%d] VmRSS: %d kB\n", pid, mem.RSS/1024)
	}

	if user, err := proc.Username(); err == nil {
		fmt.Fprintf(sink, "[%d] User: %s\n", pid, user)
	}

	return Ok
}
