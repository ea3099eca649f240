package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"scheduleChat/pkg/api"
)

var errIncompleteRecord = errors.New("record is missing id, sender or created_at")

func decodeComment(raw json.RawMessage) (api.CommentRow, error) {
	var row api.CommentRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return row, fmt.Errorf("decode comment: %w", err)
	}
	if row.Id == "" || row.UserId == "" || row.MeetingId == "" || row.CreatedAt.IsZero() {
		return row, errIncompleteRecord
	}
	return row, nil
}

func decodeDirectMessage(raw json.RawMessage) (api.DirectMessageRow, error) {
	var row api.DirectMessageRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return row, fmt.Errorf("decode direct message: %w", err)
	}
	if row.Id == "" || row.SenderId == "" || row.ReceiverId == "" || row.CreatedAt.IsZero() {
		return row, errIncompleteRecord
	}
	return row, nil
}

// decodePresence flattens a sync payload to one record per user. When a user
// has several sessions the last readable record wins. Unreadable metas are
// dropped, and a user left without any is treated as offline.
func decodePresence(state map[string][]json.RawMessage, log *zap.SugaredLogger) map[string]api.PresenceRecord {
	online := make(map[string]api.PresenceRecord, len(state))
	for key, metas := range state {
		for _, meta := range metas {
			var record api.PresenceRecord
			if err := json.Unmarshal(meta, &record); err != nil {
				log.Warnw("dropping unreadable presence meta", "key", key, "error", err)
				continue
			}
			if record.Id == "" {
				record.Id = key
			}
			if record.Id != key {
				log.Warnw("dropping presence meta tracked under another key", "key", key, "id", record.Id)
				continue
			}
			online[key] = record
		}
	}
	return online
}
