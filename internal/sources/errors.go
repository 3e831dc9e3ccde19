package sources

import (
	"errors"
	"fmt"
	"strings"
)

// ErrComplianceDenied marks a search aborted before any page fetch
// because the crawl policy for the target host denied access.
var ErrComplianceDenied = errors.New("denied by crawl policy")

// FetchError wraps a transport failure for a specific source URL.
type FetchError struct {
	Source string
	URL    string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: fetch %s: %v", e.Source, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError wraps a response that could not be interpreted.
type ParseError struct {
	Source string
	URL    string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse %s: %v", e.Source, e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UnknownSourceError reports every requested source name that is not
// registered, so callers can reject a request wholesale.
type UnknownSourceError struct {
	Names []string
}

func (e *UnknownSourceError) Error() string {
	return "unknown sources: " + strings.Join(e.Names, ", ")
}
