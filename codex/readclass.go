package codex

import (
	"path/filepath"
	"regexp"
	"strings"
)

var sedPrintRange = regexp.MustCompile(`^\d+(,\d+)?p$`)

// classifyReadCommand reports whether cmd is a plain single-file read and
// which file it targets. Anything with shell metacharacters, multiple
// targets, or unrecognized flags is not a read.
func classifyReadCommand(cmd string) (string, bool) {
	if strings.ContainsAny(cmd, "|&;<>$`") {
		return "", false
	}
	fields := strings.Fields(cmd)
	if len(fields) < 2 {
		return "", false
	}

	switch filepath.Base(fields[0]) {
	case "cat", "less", "more":
		return singleFileArg(fields[1:], false)
	case "head", "tail":
		return singleFileArg(fields[1:], true)
	case "sed":
		// sed -n '12,40p' file
		if len(fields) == 4 && fields[1] == "-n" && sedPrintRange.MatchString(unquote(fields[2])) {
			return fields[3], true
		}
	}
	return "", false
}

// singleFileArg accepts exactly one non-flag argument. When allowFlags is
// set, -n/-c take a value and numeric shorthands like -20 are tolerated.
func singleFileArg(args []string, allowFlags bool) (string, bool) {
	var path string
	skipNext := false
	for _, a := range args {
		if skipNext {
			skipNext = false
			continue
		}
		if strings.HasPrefix(a, "-") {
			if !allowFlags {
				return "", false
			}
			if a == "-n" || a == "-c" {
				skipNext = true
			}
			continue
		}
		if path != "" {
			return "", false
		}
		path = a
	}
	return path, path != ""
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
