package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	powerrec "github.com/lucasjlepore/power-recorder"
)

// ReadCapture parses "rx_time_s,payload_hex" rows. A header row and lines
// starting with '#' are skipped. Receive times must not go backwards.
func ReadCapture(r io.Reader) ([]Frame, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var (
		frames []Frame
		lastRx = math.Inf(-1)
		first  = true
	)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read capture: %w", err)
		}
		line, _ := cr.FieldPos(0)

		if len(row) != 2 {
			return nil, fmt.Errorf("capture line %d: expected 2 fields, got %d", line, len(row))
		}
		rx, err := strconv.ParseFloat(strings.TrimSpace(row[0]), 64)
		if err != nil {
			if first {
				first = false
				continue
			}
			return nil, fmt.Errorf("capture line %d: parse rx time: %w", line, err)
		}
		first = false
		if math.IsNaN(rx) || math.IsInf(rx, 0) || rx < 0 {
			return nil, fmt.Errorf("capture line %d: invalid rx time %v", line, rx)
		}
		if rx < lastRx {
			return nil, fmt.Errorf("capture line %d: rx time %v before previous %v", line, rx, lastRx)
		}
		payload, err := powerrec.ParseFrame(row[1])
		if err != nil {
			return nil, fmt.Errorf("capture line %d: %w", line, err)
		}
		lastRx = rx
		frames = append(frames, Frame{RxTime: rx, Payload: payload})
	}
	return frames, nil
}

// WriteCapture renders frames in the format ReadCapture accepts.
func WriteCapture(w io.Writer, frames []Frame) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"rx_time_s", "payload_hex"}); err != nil {
		return err
	}
	for _, f := range frames {
		row := []string{strconv.FormatFloat(f.RxTime, 'f', -1, 64), fmt.Sprintf("% X", f.Payload)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
