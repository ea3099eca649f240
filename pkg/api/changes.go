package api

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Filter narrows insert events to rows whose Column equals Value.
type Filter struct {
	Column string
	Value  string
}

// ParseFilter reads the "column=eq.value" form. An empty string is a match-all filter.
func ParseFilter(s string) (*Filter, error) {
	if s == "" {
		return nil, nil
	}
	column, rest, ok := strings.Cut(s, "=")
	if !ok || column == "" {
		return nil, fmt.Errorf("invalid filter %q", s)
	}
	value, ok := strings.CutPrefix(rest, "eq.")
	if !ok {
		return nil, fmt.Errorf("unsupported filter operator in %q", s)
	}
	return &Filter{Column: column, Value: value}, nil
}

// EqFilter builds the filter string ParseFilter accepts.
func EqFilter(column, value string) string {
	return column + "=eq." + value
}

func (s ChangeSpec) Validate() error {
	if s.Table == "" {
		return fmt.Errorf("change spec without table")
	}
	_, err := ParseFilter(s.Filter)
	return err
}

// Matches reports whether an insert of record into table is selected by the spec.
func (s ChangeSpec) Matches(table string, record json.RawMessage) bool {
	if s.Table != table {
		return false
	}
	f, err := ParseFilter(s.Filter)
	if err != nil {
		return false
	}
	if f == nil {
		return true
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(record, &fields); err != nil {
		return false
	}
	v, ok := fields[f.Column]
	if !ok || v == nil {
		return false
	}
	return fmt.Sprint(v) == f.Value
}

// readers returns the users allowed to receive an insert of record into
// table. restricted is false when any subscriber may receive it. Direct
// messages are readable by their two parties only; an undecodable row is
// readable by nobody.
func readers(table string, record json.RawMessage) (users map[string]bool, restricted bool) {
	if table != DirectMessagesTable {
		return nil, false
	}
	var row DirectMessageRow
	if err := json.Unmarshal(record, &row); err != nil {
		return map[string]bool{}, true
	}
	users = make(map[string]bool, 2)
	for _, id := range []string{row.SenderId, row.ReceiverId} {
		if id != "" {
			users[id] = true
		}
	}
	return users, true
}
