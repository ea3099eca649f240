package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"scheduleChat/pkg/api"
	"scheduleChat/pkg/realtime"
)

func TestRenderGroupsClusters(t *testing.T) {
	at := func(min, sec int) time.Time { return time.Date(2024, 3, 1, 12, min, sec, 0, time.Local) }
	entries := []realtime.Entry{
		{Id: "a", SenderId: "1", Sender: api.Profile{Name: "Ada"}, Content: "hi", CreatedAt: at(0, 5)},
		{Id: "b", SenderId: "1", Sender: api.Profile{Name: "Ada"}, Content: "there", CreatedAt: at(0, 40)},
		{Id: "c", SenderId: "2", Content: "yo", CreatedAt: at(1, 0), Status: realtime.Pending},
	}
	online := map[string]api.PresenceRecord{"2": {Id: "2", Name: "Bo"}, "1": {Id: "1", Name: "Ada"}}

	var buf bytes.Buffer
	render(&buf, "meeting:m1", online, entries, errors.New("message to meeting:m1 not sent"))
	out := strings.TrimPrefix(buf.String(), clearScreen)

	assert.Equal(t, `online: Ada, Bo
── meeting:m1 ──

Ada
  hi
  there  12:00

2
  yo …  12:01

! message to meeting:m1 not sent

> `, out)
}

func TestRenderWithNobodyOnline(t *testing.T) {
	var buf bytes.Buffer
	render(&buf, "no conversation", nil, nil, nil)
	assert.Contains(t, buf.String(), "online: nobody")
}
