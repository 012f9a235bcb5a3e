package relayer

import "fmt"

// SubmissionError reports a request that never produced a response:
// connection failure, timeout or cancellation.
type SubmissionError struct {
	URL string
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("request %s: %v", e.URL, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// NonOKError reports a response with a status other than 200.
type NonOKError struct {
	Op     string
	Status int
	Body   string
}

func (e *NonOKError) Error() string {
	return fmt.Sprintf("%s: relayer returned status %d: %s", e.Op, e.Status, e.Body)
}

// DecodeError reports a 200 response whose body could not be understood.
type DecodeError struct {
	Op   string
	Body string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: decode response %q: %v", e.Op, e.Body, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
