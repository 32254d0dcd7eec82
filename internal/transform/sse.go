package transform

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// FormatSSEEvent renders one Server-Sent Event line pair.
func FormatSSEEvent(event string, data []byte) []byte {
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data))
}

// ScanSSE reads one "event:"/"data:" pair at a time from r, invoking fn for
// each complete event. It stops (without error) on a "data: [DONE]" line or
// EOF, matching the teacher's handleStreamingResponse scanner loop — each
// event is handed off as soon as its blank-line terminator arrives so
// latency is bounded by provider chunk arrival, not by buffering the whole
// stream.
func ScanSSE(r io.Reader, fn func(event StreamEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var currentEvent string
	var dataLines []string

	flush := func() error {
		if len(dataLines) == 0 {
			return nil
		}
		data := strings.Join(dataLines, "\n")
		event := currentEvent
		currentEvent, dataLines = "", nil
		if data == "[DONE]" {
			return io.EOF
		}
		return fn(StreamEvent{Event: event, Data: []byte(data)})
	}

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if err := flush(); err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}
		case strings.HasPrefix(line, ":"):
			// comment/heartbeat line, ignore
		case strings.HasPrefix(line, "event:"):
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := flush(); err != nil && err != io.EOF {
		return err
	}
	return scanner.Err()
}
