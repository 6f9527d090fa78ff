package domain

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned when a crawl is requested while another run is
// in progress. The request is rejected, not queued.
var ErrAlreadyRunning = errors.New("crawl already running")

// FetchError is a recoverable remote failure: one listing page or one detail
// page was unreachable or structurally unusable. Adapters log it, skip the
// page or item, and continue.
type FetchError struct {
	Site Site
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: fetch %s: %v", e.Site, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StoreError is a persistence failure. It propagates and aborts the current
// source's run, since data integrity can no longer be assumed.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
