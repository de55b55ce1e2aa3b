// Package recorder assembles and writes one fact row per logged watch
// check. Writing is best-effort: a failure anywhere in the logging path is
// recorded and swallowed, never surfaced to the monitoring pipeline that
// produced the event.
package recorder

import "time"

// Result is the terminal status of a logged check.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailed  Result = "failed"
)

// maxErrorMessageLen bounds the stored error detail.
const maxErrorMessageLen = 1000

// Event is the single inbound call shape accepted from the host
// application: one monitored-page check, with every normalized attribute as
// its raw string value. JSON tags support line-delimited ingest.
type Event struct {
	WatchUUID string `json:"watch_uuid"`
	WatchURL  string `json:"watch_url"`
	Processor string `json:"processor,omitempty"`

	// Hostname of the checking process; defaults to the writer's configured
	// process hostname when empty.
	Hostname string `json:"hostname,omitempty"`

	ProxyKey      string `json:"proxy_key,omitempty"`
	ProxyEndpoint string `json:"proxy_endpoint,omitempty"`

	BrowserConnectionURL string `json:"browser_connection_url,omitempty"`
	FetchBackend         string `json:"fetch_backend,omitempty"`

	// Timestamp of the check with millisecond precision; zero means now.
	Timestamp time.Time `json:"timestamp,omitempty"`

	DurationMS    int `json:"duration_ms"`
	StatusCode    int `json:"status_code"`
	ContentLength int `json:"content_length"`

	// BrowserSteps is an opaque, already-compressed steps payload
	// (see CompressSteps for hosts holding raw step JSON).
	BrowserSteps      []byte `json:"browser_steps,omitempty"`
	BrowserStepsCount int    `json:"browser_steps_count,omitempty"`

	Result       Result `json:"result,omitempty"`
	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// normalize fills derivable fields in place. Result falls back to the
// presence of an error type, matching how the host classifies outcomes.
func (e *Event) normalize(defaultHostname string, now time.Time) {
	if e.Hostname == "" {
		e.Hostname = defaultHostname
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if e.Result == "" {
		if e.ErrorType != "" {
			e.Result = ResultFailed
		} else {
			e.Result = ResultSuccess
		}
	}
	if len(e.ErrorMessage) > maxErrorMessageLen {
		e.ErrorMessage = e.ErrorMessage[:maxErrorMessageLen]
	}
}
