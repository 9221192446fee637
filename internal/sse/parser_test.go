package sse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEvents(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive comment",
		"event: connected",
		`data: {"connectionId":"abc"}`,
		"",
		"event: notification",
		"id: 7",
		`data: {"NotificationID":7,`,
		`data: "Title":"x"}`,
		"",
		`data: plain message`,
		"",
		"event: heartbeat",
		"data:",
		"",
		"event: dangling",
		"",
		"event: unterminated",
		"data: lost",
	}, "\n")

	var got []Event
	err := readEvents(strings.NewReader(stream), func(e Event) { got = append(got, e) })
	require.NoError(t, err)

	assert.Equal(t, []Event{
		{Name: "connected", Data: `{"connectionId":"abc"}`},
		{Name: "notification", ID: "7", Data: "{\"NotificationID\":7,\n\"Title\":\"x\"}"},
		{Name: "message", Data: "plain message"},
		{Name: "heartbeat", Data: ""},
	}, got)
}
