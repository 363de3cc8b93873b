package command

import (
	"bytes"
	"os/exec"
)

// runExternal forks/execs an allow-listed system utility with its combined
// stdout/stderr redirected into sink (spec §4.7), mirroring
// original_source/libs/commands/commands.c's USUAL_CMD branch (execvp +
// wait) without shelling out through /bin/sh.
func runExternal(verb string, args []string, sink *bytes.Buffer) Outcome {
	cmd := exec.Command(verb, args...)
	cmd.Stdout = sink
	cmd.Stderr = sink
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			// The command ran and produced output/exit status; the combined
			// stream already carries the diagnostic. Best-effort: the
			// substrate does not retry failed commands (spec §1).
			return Ok
		}
		return Failed
	}
	return Ok
}
