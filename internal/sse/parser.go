package sse

import (
	"bufio"
	"io"
	"strings"
)

// Event is one dispatched server-sent event.
type Event struct {
	Name string
	ID   string
	Data string
}

const maxLineSize = 1 << 20

// readEvents parses an event stream and calls fn per event until r is
// exhausted. It returns the scanner error, nil on clean EOF.
func readEvents(r io.Reader, fn func(Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var (
		ev      Event
		data    strings.Builder
		hasData bool
	)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if hasData {
				ev.Data = data.String()
				if ev.Name == "" {
					ev.Name = "message"
				}
				fn(ev)
			}
			ev = Event{}
			data.Reset()
			hasData = false
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Name = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "id":
			ev.ID = value
		}
	}
	return scanner.Err()
}
