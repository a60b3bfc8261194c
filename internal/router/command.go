package router

import (
	"strings"
	"time"
)

// CommandKind is the closed set of slash commands.
type CommandKind int

const (
	CmdTest CommandKind = iota
	CmdAdd
	CmdEdit
	CmdRemove
	CmdList
	CmdStats
	CmdLastPost
	CmdPoll
	CmdVote
	cmdCount
)

var commandNames = [cmdCount]string{
	CmdTest:     "test",
	CmdAdd:      "add",
	CmdEdit:     "edit",
	CmdRemove:   "remove",
	CmdList:     "list",
	CmdStats:    "stats",
	CmdLastPost: "lastpost",
	CmdPoll:     "poll",
	CmdVote:     "vote",
}

func (k CommandKind) String() string {
	if k < 0 || k >= cmdCount {
		return "unknown"
	}
	return commandNames[k]
}

// ParseCommandKind matches the first token of a message (with its leading
// slash) case-insensitively.
func ParseCommandKind(token string) (CommandKind, bool) {
	name, ok := strings.CutPrefix(token, "/")
	if !ok || name == "" {
		return 0, false
	}
	name = strings.ToLower(name)
	for k := CommandKind(0); k < cmdCount; k++ {
		if commandNames[k] == name {
			return k, true
		}
	}
	return 0, false
}

// Command is one dispatch table entry.
type Command struct {
	Kind       CommandKind
	Usage      string
	Example    string
	Privileged bool          // admin and super only
	Timeout    time.Duration // optional per-command override
	Handle     HandlerFunc
}
