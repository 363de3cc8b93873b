package command

import (
	"bytes"
	"fmt"
	"os/user"
	"strconv"

	"github.com/shirou/gopsutil/v3/host"
)

// execUinfo is "uinfo": spec.md §6 lists it in the command catalogue but
// original_source/libs/commands/commands.c never implements it (only
// info/ccp/lsl get FUNCTIONS entries); supplemented here per SPEC_FULL.md
// §5 using the admission record's uid plus gopsutil host info.
func execUinfo(ctx RequestContext, _ []string, sink *bytes.Buffer) Outcome {
	info, err := host.Info()
	if err != nil {
		fmt.Fprintf(sink, "uinfo: unable to read host info\n")
		return Failed
	}

	fmt.Fprintf(sink, "Host: %s\n", info.Hostname)
	fmt.Fprintf(sink, "OS: %s/%s (%s)\n", info.OS, info.Platform, info.KernelVersion)
	fmt.Fprintf(sink, "Uptime: %d seconds\n", info.Uptime)

	if u, err := user.LookupId(strconv.FormatUint(uint64(ctx.ClientUID), 10)); err == nil {
		fmt.Fprintf(sink, "Caller uid: %d (%s)\n", ctx.ClientUID, u.Username)
	} else {
		fmt.Fprintf(sink, "Caller uid: %d\n", ctx.ClientUID)
	}

	return Ok
}
