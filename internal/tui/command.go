package tui

import (
	"strconv"
	"strings"

	"github.com/matheus3301/parley/internal/domain"
)

// Command represents a parsed prompt command.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a command string (without the leading ':').
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}

// Contact parses Args as a contact id.
func (c Command) Contact() (domain.UserID, bool) {
	id, err := strconv.ParseInt(c.Args, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return domain.UserID(id), true
}

// Files splits Args into file paths and a caption. The caption follows a
// lone "--"; paths are separated by spaces.
func (c Command) Files() (paths []string, caption string) {
	fields := strings.Fields(c.Args)
	for i, f := range fields {
		if f == "--" {
			return paths, strings.Join(fields[i+1:], " ")
		}
		paths = append(paths, f)
	}
	return paths, ""
}
