// Package format renders chat times and groups messages for display.
package format

import (
	"fmt"
	"sort"
	"time"

	"supportchat/pkg/types"
)

const (
	TimeLayout = "15:04"
	DateLayout = "Jan 2, 2006"
)

// Time renders the clock time of a message.
func Time(t time.Time) string {
	return t.Format(TimeLayout)
}

// Date renders a calendar label relative to now: "Today", "Yesterday", a
// weekday name inside the last week, otherwise the full date.
func Date(t, now time.Time) string {
	switch days := daysBetween(t, now); {
	case days == 0:
		return "Today"
	case days == 1:
		return "Yesterday"
	case days > 1 && days < 7:
		return t.In(now.Location()).Weekday().String()
	default:
		return t.In(now.Location()).Format(DateLayout)
	}
}

// Relative renders elapsed time for list views.
func Relative(t, now time.Time) string {
	elapsed := now.Sub(t)
	switch {
	case elapsed < time.Minute:
		return "just now"
	case elapsed < time.Hour:
		return fmt.Sprintf("%dm ago", int(elapsed/time.Minute))
	case elapsed < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(elapsed/time.Hour))
	default:
		return Date(t, now)
	}
}

// DateGroup is one calendar day of messages.
type DateGroup struct {
	Label    string
	Day      time.Time
	Messages []types.Message
}

// GroupByDate buckets messages by calendar day in now's location. Groups are
// ordered oldest day first; messages keep their relative order.
func GroupByDate(messages []types.Message, now time.Time) []DateGroup {
	index := make(map[time.Time]int)
	var groups []DateGroup

	for _, msg := range messages {
		day := startOfDay(msg.Timestamp.In(now.Location()))
		i, ok := index[day]
		if !ok {
			i = len(groups)
			index[day] = i
			groups = append(groups, DateGroup{Label: Date(msg.Timestamp, now), Day: day})
		}
		groups[i].Messages = append(groups[i].Messages, msg)
	}

	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Day.Before(groups[j].Day) })
	return groups
}

// SenderRun is a consecutive block of messages from one sender.
type SenderRun struct {
	Sender   string
	Messages []types.Message
}

// GroupBySender collapses consecutive messages from the same sender. A gap
// longer than window starts a new run; a non-positive window never splits.
func GroupBySender(messages []types.Message, window time.Duration) []SenderRun {
	var runs []SenderRun

	for _, msg := range messages {
		if n := len(runs); n > 0 && runs[n-1].Sender == msg.Sender {
			last := runs[n-1].Messages[len(runs[n-1].Messages)-1]
			if window <= 0 || msg.Timestamp.Sub(last.Timestamp) <= window {
				runs[n-1].Messages = append(runs[n-1].Messages, msg)
				continue
			}
		}
		runs = append(runs, SenderRun{Sender: msg.Sender, Messages: []types.Message{msg}})
	}
	return runs
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// daysBetween counts calendar days from t to now in now's location; negative
// when t is in the future
func daysBetween(t, now time.Time) int {
	ty, tm, td := t.In(now.Location()).Date()
	ny, nm, nd := now.Date()
	// UTC midnights keep DST shifts out of the division
	a := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	b := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
