package realtime

import "time"

// IsContinuation reports whether entries[i] continues the cluster of the
// entry before it: same sender within the same local wall-clock minute.
func IsContinuation(entries []Entry, i int) bool {
	if i <= 0 || i >= len(entries) {
		return false
	}
	prev, cur := entries[i-1], entries[i]
	return prev.SenderId == cur.SenderId && sameMinute(prev.CreatedAt, cur.CreatedAt)
}

// ShowTimestamp reports whether entries[i] ends its cluster.
func ShowTimestamp(entries []Entry, i int) bool {
	if i < 0 || i >= len(entries) {
		return false
	}
	if i == len(entries)-1 {
		return true
	}
	cur, next := entries[i], entries[i+1]
	return cur.SenderId != next.SenderId || !sameMinute(cur.CreatedAt, next.CreatedAt)
}

// sameMinute compares hour and minute only, not a sliding window.
func sameMinute(a, b time.Time) bool {
	a, b = a.Local(), b.Local()
	return a.Hour() == b.Hour() && a.Minute() == b.Minute()
}
