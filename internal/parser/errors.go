package parser

import "fmt"

// FetchError reports a playlist that could not be downloaded after the
// retry budget was spent.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch playlist %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports a playlist with no usable content. It is not retryable.
type ParseError struct {
	URL    string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse playlist %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse playlist %s: %s", e.URL, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }
