package command

import "bytes"

// catalogue mirrors original_source/libs/commands/commands.c's
// print_commands, extended with uinfo which spec.md §6 lists but the
// original never implemented.
const catalogue = `Usual commands available:
    - ls ...   : any variant of ls.
    - ps ...   : any variant of ps.
    - pwd ...  : any variant of pwd.
    - rm ...   : any variant of rm.
    - exit     : disconnect from the server.
Custom commands available:
    - help                               : show this catalogue.
    - info [PID]                         : show process info for PID, or the caller if omitted.
    - uinfo                              : show host info and the calling user's identity.
    - ccp -f src -d dest [-v] [-a] [-b N] [-e N] : copy src to dest.
    - lsl [dir]                          : list entries with mode and size.
`

func execHelp(_ RequestContext, _ []string, sink *bytes.Buffer) Outcome {
	sink.WriteString(catalogue)
	return Ok
}

// Catalogue exposes the same text execHelp prints, for the client binary's
// --help flag (spec.md §6) where there is no server round trip to ask.
func Catalogue() string {
	return catalogue
}
