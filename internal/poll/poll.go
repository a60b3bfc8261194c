// Package poll keeps open polls and publishes their results when the due timer
// fires.
package poll

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// Poll is a snapshot of one open poll.
type Poll struct {
	ID       string
	Owner    string
	Due      time.Time
	Question string
	Options  []string
	Tally    []int
	Votes    map[string]int // voter contact -> option index
}

// Voters is the number of distinct voters. It always equals the tally sum.
func (p Poll) Voters() int { return len(p.Votes) }

func (p Poll) clone() Poll {
	p.Options = append([]string(nil), p.Options...)
	p.Tally = append([]int(nil), p.Tally...)
	p.Votes = maps.Clone(p.Votes)
	return p
}

// Announcement is the text sent to subscribers when the poll opens.
func (p Poll) Announcement() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Poll: %s\n", p.Question)
	for i, o := range p.Options {
		fmt.Fprintf(&b, "%d. %s\n", i+1, o)
	}
	fmt.Fprintf(&b, "Vote with /vote %s <number> before %s UTC", shortID(p.ID), p.Due.UTC().Format(absoluteLayout))
	return b.String()
}

// Results is the text broadcast when the poll closes.
func (p Poll) Results() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Poll results: %s", p.Question)
	for i, o := range p.Options {
		n := 0
		if i < len(p.Tally) {
			n = p.Tally[i]
		}
		unit := "votes"
		if n == 1 {
			unit = "vote"
		}
		fmt.Fprintf(&b, "\n%d. %s: %d %s", i+1, o, n, unit)
	}
	return b.String()
}

// shortID is the prefix users type in /vote.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
