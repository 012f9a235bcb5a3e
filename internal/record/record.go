package record

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// Record correlates a relayer job id with the payload that produced it.
// One Record is one line of the result log.
type Record struct {
	JobID    uint32    `json:"job_id"`
	FileName string    `json:"file_name"`
	Created  time.Time `json:"created"` // RFC3339Nano, UTC
}

// New stamps a record for a successful submission
func New(jobID uint32, fileName string, at time.Time) Record {
	return Record{
		JobID:    jobID,
		FileName: fileName,
		Created:  at.UTC().Round(0),
	}
}

// SerializationError reports a record that could not be encoded or a log
// line that could not be decoded. Line is 0 when encoding.
type SerializationError struct {
	Line int
	Err  error
}

func (e *SerializationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("result log line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("encode record: %v", e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// MarshalLine encodes r as a single newline-terminated JSON line
func MarshalLine(r Record) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, &SerializationError{Err: err}
	}
	return append(b, '\n'), nil
}

// UnmarshalLine decodes one log line
func UnmarshalLine(line []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(line, &r); err != nil {
		return Record{}, &SerializationError{Err: err}
	}
	return r, nil
}

// Reader scans a result log sequentially, one record per line.
type Reader struct {
	sc   *bufio.Scanner
	line int
}

func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	return &Reader{sc: sc}
}

// Next returns the next record, io.EOF at end of log. Blank lines are skipped.
func (r *Reader) Next() (Record, error) {
	for r.sc.Scan() {
		r.line++
		b := r.sc.Bytes()
		if len(b) == 0 {
			continue
		}
		rec, err := UnmarshalLine(b)
		var serr *SerializationError
		if errors.As(err, &serr) {
			serr.Line = r.line
		}
		return rec, err
	}
	if err := r.sc.Err(); err != nil {
		return Record{}, &SerializationError{Line: r.line + 1, Err: err}
	}
	return Record{}, io.EOF
}
