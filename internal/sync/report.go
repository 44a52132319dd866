package sync

import "fmt"

// Status is the outcome of one directive
type Status string

const (
	StatusUploaded    Status = "uploaded"
	StatusSkipped     Status = "skipped"
	StatusFailed      Status = "failed"
	StatusWouldUpload Status = "would-upload"
)

// PublishError is a per-object publish failure
type PublishError struct {
	Key string
	Op  string
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Result pairs a directive with its outcome
type Result struct {
	Directive
	Status Status
	Err    error
}

// Report summarizes a publish run
type Report struct {
	DryRun         bool
	CatalogPath    string
	CatalogEntries int
	Results        []Result
	Errors         []*PublishError
}

func newReport(dryRun bool, plan *Plan, results []Result) *Report {
	r := &Report{DryRun: dryRun, Results: results}
	r.Errors = append(r.Errors, plan.Unavailable...)
	for _, res := range results {
		if res.Status == StatusFailed {
			r.Errors = append(r.Errors, &PublishError{Key: res.Key, Op: "upload", Err: res.Err})
		}
	}
	return r
}

// Count returns the number of results with status s
func (r *Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Failed reports whether any object could not be published
func (r *Report) Failed() bool {
	return len(r.Errors) > 0
}
