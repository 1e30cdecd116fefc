package types

import (
	"fmt"
	"strings"
	"time"
)

type DocType string

const (
	DocTypeMarkdown DocType = "MARKDOWN"
	DocTypeHTML     DocType = "HTML"
	DocTypePDF      DocType = "PDF"
)

var DocTypes = []DocType{DocTypeMarkdown, DocTypeHTML, DocTypePDF}

// ParseDocType uppercases s. Values outside DocTypes are kept as-is so the
// server gets to reject them.
func ParseDocType(s string) DocType {
	return DocType(strings.ToUpper(strings.TrimSpace(s)))
}

func (d DocType) Known() bool {
	for _, t := range DocTypes {
		if d == t {
			return true
		}
	}
	return false
}

func (d DocType) Extension() string {
	return strings.ToLower(string(d))
}

// Filename is the name every successful export is saved under.
func (d DocType) Filename() string {
	return "export." + d.Extension()
}

func (d DocType) MediaType() string {
	switch d {
	case DocTypeMarkdown:
		return "text/markdown"
	case DocTypeHTML:
		return "text/html"
	case DocTypePDF:
		return "application/pdf"
	}
	return "application/octet-stream"
}

type ExportRequest struct {
	WikiURL string  `json:"wiki_url"`
	DocType DocType `json:"doc_type"`
}

// ErrorBody is the JSON error shape sent by the export backend.
type ErrorBody struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message"`
}

// ExportResponse is one of Success, ServerError, SuccessShapedError,
// TransportError or TimeoutError.
type ExportResponse interface {
	exportResponse()
}

type Success struct {
	Payload           []byte
	SuggestedFilename string
	ContentType       string
}

type ServerError struct {
	StatusCode int
	Message    string
	Body       map[string]any
}

type SuccessShapedError struct {
	Message string
	Body    map[string]any
}

type TransportError struct {
	Err error
}

type TimeoutError struct {
	After time.Duration
}

func (*Success) exportResponse() {}
func (*ServerError) exportResponse() {}
func (*SuccessShapedError) exportResponse() {}
func (*TransportError) exportResponse() {}
func (*TimeoutError) exportResponse() {}

func (e *ServerError) Error() string {
	return fmt.Sprintf("export server returned status %d: %s", e.StatusCode, e.Message)
}

func (e *SuccessShapedError) Error() string {
	return "export server reported failure: " + e.Message
}

func (e *TransportError) Error() string {
	return "export request failed: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("export request timed out after %s", e.After)
}

type StatusKind int

const (
	StatusIdle StatusKind = iota
	StatusProcessing
	StatusSuccess
	StatusError
	StatusWarning
)

func (k StatusKind) String() string {
	switch k {
	case StatusIdle:
		return "idle"
	case StatusProcessing:
		return "processing"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	case StatusWarning:
		return "warning"
	}
	return fmt.Sprintf("StatusKind(%d)", int(k))
}

type Outcome string

const (
	OutcomeDownloaded   Outcome = "downloaded"
	OutcomeInvalidInput Outcome = "invalid_input"
	OutcomeFailed       Outcome = "failed"
	// OutcomeRejected means the call never started because another export
	// was in flight.
	OutcomeRejected Outcome = "rejected"
)
