package llm

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// Frame is one data line of a server-sent event stream together with the
// event name that preceded it, if any.
type Frame struct {
	Event string
	Data  string
}

// FrameDecoder reads SSE data frames incrementally. Lines split across
// reads are buffered until complete, CRLF endings are accepted, and a final
// line without a newline is still delivered at EOF.
type FrameDecoder struct {
	r     *bufio.Reader
	event string
	eof   bool
}

func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{r: bufio.NewReader(r)}
}

// Next returns the next data frame, or io.EOF once the stream is exhausted.
// Comment lines and fields other than event and data are ignored.
func (d *FrameDecoder) Next() (Frame, error) {
	for !d.eof {
		line, err := d.r.ReadString('\n')
		if errors.Is(err, io.EOF) {
			d.eof = true
		} else if err != nil {
			return Frame{}, err
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			d.event = ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			d.event = value
		case "data":
			return Frame{Event: d.event, Data: value}, nil
		}
	}
	return Frame{}, io.EOF
}
