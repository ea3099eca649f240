package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"scheduleChat/pkg/api"
	"scheduleChat/pkg/realtime"
)

const clearScreen = "\033[H\033[2J"

// render writes the whole screen: who is online, the open conversation
// grouped into clusters, and the last send error.
func render(w io.Writer, title string, online map[string]api.PresenceRecord, entries []realtime.Entry, sendErr error) {
	fmt.Fprint(w, clearScreen)
	fmt.Fprintf(w, "online: %s\n", onlineList(online))
	fmt.Fprintf(w, "── %s ──\n", title)

	for i, e := range entries {
		if !realtime.IsContinuation(entries, i) {
			name := e.Sender.Name
			if name == "" {
				name = e.SenderId
			}
			fmt.Fprintf(w, "\n%s\n", name)
		}

		line := "  " + e.Content
		if e.Pending() {
			line += " …"
		}
		if realtime.ShowTimestamp(entries, i) {
			line += "  " + e.CreatedAt.Local().Format("15:04")
		}
		fmt.Fprintln(w, line)
	}

	if sendErr != nil {
		fmt.Fprintf(w, "\n! %v\n", sendErr)
	}
	fmt.Fprint(w, "\n> ")
}

func onlineList(online map[string]api.PresenceRecord) string {
	if len(online) == 0 {
		return "nobody"
	}
	names := make([]string, 0, len(online))
	for id, record := range online {
		name := record.Name
		if name == "" {
			name = id
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
