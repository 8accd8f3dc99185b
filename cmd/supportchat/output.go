package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"supportchat/internal/format"
	"supportchat/pkg/types"
)

// senderWindow joins consecutive lines from one sender under a single header.
const senderWindow = 5 * time.Minute

// syncWriter serializes writes from the event printer and the input loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Printf(layout string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, layout, args...)
}

func statusColor(status string) string {
	switch status {
	case types.DirectoryStatusActive:
		return color.GreenString(status)
	case types.DirectoryStatusWaiting:
		return color.YellowString(status)
	case types.DirectoryStatusClosed, types.DirectoryStatusEnded:
		return color.HiBlackString(status)
	default:
		return status
	}
}

func senderColor(msg types.Message, self string) string {
	name := msg.Sender
	if name == "" {
		name = "unknown"
	}
	switch {
	case self != "" && msg.Sender == self:
		return color.CyanString(name)
	case msg.SenderRole == types.RoleAdmin:
		return color.YellowString(name)
	default:
		return color.GreenString(name)
	}
}

func truncateStr(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if n < 4 {
		n = 4
	}
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}

func lastSeen(e types.DirectoryEntry) time.Time {
	if e.LastActivity != nil {
		return *e.LastActivity
	}
	return e.CreatedAt
}

func sortByActivity(entries []types.DirectoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool { return lastSeen(entries[i]).After(lastSeen(entries[j])) })
}

// renderDirectory writes the live session table.
func renderDirectory(w io.Writer, entries []types.DirectoryEntry, now time.Time) {
	if len(entries) == 0 {
		fmt.Fprintln(w, color.HiBlackString("No sessions"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tCUSTOMER\tUNREAD\tACTIVITY\tLAST MESSAGE")
	for _, e := range entries {
		customer := e.CustomerName
		if customer == "" {
			customer = e.CustomerID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			e.ID, statusColor(e.Status), customer, e.UnreadCount,
			format.Relative(lastSeen(e), now), truncateStr(e.LastMessage, 40))
	}
	_ = tw.Flush()
}

// renderArchive writes archived sessions with their age.
func renderArchive(w io.Writer, entries []types.DirectoryEntry, now time.Time) {
	if len(entries) == 0 {
		fmt.Fprintln(w, color.HiBlackString("Archive is empty"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tCUSTOMER\tLAST SEEN")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			e.ID, statusColor(e.Status), e.CustomerName, humanize.RelTime(lastSeen(e), now, "ago", "from now"))
	}
	_ = tw.Flush()
}

// renderTranscript writes messages grouped by day, then by sender run.
func renderTranscript(w io.Writer, messages []types.Message, self string, now time.Time) {
	if len(messages) == 0 {
		fmt.Fprintln(w, color.HiBlackString("No messages"))
		return
	}
	for _, day := range format.GroupByDate(messages, now) {
		fmt.Fprintln(w, color.CyanString("── %s ──", day.Label))
		for _, run := range format.GroupBySender(day.Messages, senderWindow) {
			fmt.Fprintf(w, "%s\n", senderColor(run.Messages[0], self))
			for _, msg := range run.Messages {
				fmt.Fprintf(w, "  %s %s\n", color.HiBlackString(format.Time(msg.Timestamp)), msg.Text)
			}
		}
	}
}

// renderMessageLine writes one live message.
func renderMessageLine(w *syncWriter, sessionID string, msg types.Message, self string, showSession bool) {
	prefix := ""
	if showSession {
		prefix = color.HiBlackString("[%s] ", sessionID)
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	w.Printf("%s%s %s: %s\n", prefix, color.HiBlackString(format.Time(ts)), senderColor(msg, self), msg.Text)
}

func renderNotice(w *syncWriter, layout string, args ...interface{}) {
	w.Printf("%s\n", color.HiBlackString("* "+layout, args...))
}

func renderError(w *syncWriter, err error) {
	w.Printf("%s %v\n", color.RedString("!"), err)
}
