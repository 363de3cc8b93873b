package command

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/afero"
)

var osFs = afero.NewOsFs()

// execCcp is "ccp -f src -d dest [-v] [-a] [-b N] [-e N]": the one command
// original_source/libs/commands/commands.c stubs out (exec_ccp just prints
// a placeholder). Implemented here per the behaviour its own help text
// documents (SPEC_FULL.md §5), backed by afero so it shares a filesystem
// abstraction with lsl.
func execCcp(_ RequestContext, args []string, sink *bytes.Buffer) Outcome {
	var src, dest string
	var verify, appendMode bool
	var begin, end int64 = 0, -1

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return usageCcp(sink)
			}
			i++
			src = args[i]
		case "-d":
			if i+1 >= len(args) {
				return usageCcp(sink)
			}
			i++
			dest = args[i]
		case "-v":
			verify = true
		case "-a":
			appendMode = true
		case "-b":
			if i+1 >= len(args) {
				return usageCcp(sink)
			}
			i++
			n, err := strconv.ParseInt(args[i], 10, 64)
			if err != nil {
				return usageCcp(sink)
			}
			begin = n
		case "-e":
			if i+1 >= len(args) {
				return usageCcp(sink)
			}
			i++
			n, err := strconv.ParseInt(args[i], 10, 64)
			if err != nil {
				return usageCcp(sink)
			}
			end = n
		default:
			return usageCcp(sink)
		}
	}
	if src == "" || dest == "" {
		return usageCcp(sink)
	}

	if verify {
		if exists, _ := afero.Exists(osFs, dest); exists {
			fmt.Fprintf(sink, "ccp: %s already exists\n", dest)
			return Failed
		}
	}

	data, err := afero.ReadFile(osFs, src)
	if err != nil {
		fmt.Fprintf(sink, "ccp: cannot read %s: %v\n", src, err)
		return Failed
	}
	if end < 0 || end > int64(len(data)) {
		end = int64(len(data))
	}
	if begin < 0 {
		begin = 0
	}
	if begin > end {
		begin = end
	}
	slice := data[begin:end]

	flags := os.O_WRONLY | os.O_CREATE
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := osFs.OpenFile(dest, flags, 0o644)
	if err != nil {
		fmt.Fprintf(sink, "ccp: cannot open %s: %v\n", dest, err)
		return Failed
	}
	defer f.Close()
	if _, err := f.Write(slice); err != nil {
		fmt.Fprintf(sink, "ccp: write failed: %v\n", err)
		return Failed
	}

	fmt.Fprintf(sink, "ccp: copied %d bytes from %s to %s\n", len(slice), src, dest)
	return Ok
}

func usageCcp(sink *bytes.Buffer) Outcome {
	fmt.Fprintf(sink, "Usage: ccp -f src -d dest [-v] [-a] [-b N] [-e N]\n")
	return InvalidCommand
}

// execLsl is "lsl [dir]", which the original's help text calls a shorthand
// for "ls -li" but commands.c never actually implements (exec_lsl also just
// prints a placeholder). This version, over afero, prints one line per
// entry: a 1-based sequence number, the mode, the size and the name. It
// does not print inode numbers, link counts, owners or times.
func execLsl(_ RequestContext, args []string, sink *bytes.Buffer) Outcome {
	dir := "."
	if len(args) >= 1 {
		dir = args[0]
	}

	entries, err := afero.ReadDir(osFs, dir)
	if err != nil {
		fmt.Fprintf(sink, "lsl: cannot read %s: %v\n", dir, err)
		return Failed
	}

	for i, entry := range entries {
		fmt.Fprintf(sink, "%d %s %10d %s\n", i+1, entry.Mode(), entry.Size(), entry.Name())
	}
	return Ok
}
