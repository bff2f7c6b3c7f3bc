package wsi

import "strings"

// Command supports command-line interaction with wsiview.  The first item in the
// string slice is the command name, e.g., "serve" or "index".
type Command []string

// String returns a space-separated command line
func (cmd Command) String() string {
	return strings.Join([]string(cmd), " ")
}

// Name returns the first argument which is assumed to be the name of the command.
func (cmd Command) Name() string {
	if len(cmd) == 0 {
		return ""
	}
	return cmd[0]
}

// Argument returns the nth argument of the command, where 0 is the command name,
// or the empty string if there aren't enough arguments.
func (cmd Command) Argument(pos int) string {
	if pos < 0 || pos >= len(cmd) {
		return ""
	}
	return cmd[pos]
}

// CommandArgs sets a variadic argument set of string pointers to the command
// arguments following the name.  If there aren't enough arguments to set a target,
// the target is set to the empty string.  It returns an 'overflow' slice that has
// all arguments beyond those needed for targets.
func (cmd Command) CommandArgs(targets ...*string) (overflow []string) {
	for _, target := range targets {
		*target = ""
	}
	if len(cmd) < 2 {
		return nil
	}
	for i, arg := range cmd[1:] {
		if i < len(targets) {
			*(targets[i]) = arg
		} else {
			overflow = append(overflow, arg)
		}
	}
	return
}
