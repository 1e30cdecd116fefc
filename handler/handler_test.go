package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stenstromen/wikiexport/api"
	"github.com/stenstromen/wikiexport/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type status struct {
	text string
	kind types.StatusKind
}

type download struct {
	data     []byte
	filename string
}

type fakeUI struct {
	mu          sync.Mutex
	input       string
	statuses    []status
	downloads   []download
	triggerLog  []bool
	downloadErr error
}

func (f *fakeUI) Input() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.input
}

func (f *fakeUI) ClearInput() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.input = ""
}

func (f *fakeUI) SetStatus(text string, kind types.StatusKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status{text, kind})
}

func (f *fakeUI) SetTriggerEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggerLog = append(f.triggerLog, enabled)
}

func (f *fakeUI) TriggerDownload(_ context.Context, data []byte, filename string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.downloadErr != nil {
		return f.downloadErr
	}
	f.downloads = append(f.downloads, download{data, filename})
	return nil
}

func (f *fakeUI) last() status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[len(f.statuses)-1]
}

type stubExporter struct {
	res  types.ExportResponse
	reqs []types.ExportRequest
}

func (s *stubExporter) Export(_ context.Context, req types.ExportRequest) types.ExportResponse {
	s.reqs = append(s.reqs, req)
	return s.res
}

// exportServer serves every POST /export with the given status, content
// type and body.
func exportServer(t *testing.T, code int, contentType, body string) *api.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return api.New(api.Options{BaseURL: srv.URL, Timeout: 2 * time.Second})
}

func TestExecutePDFDownload(t *testing.T) {
	ui := &fakeUI{input: "https://github.com/org/repo/wiki"}
	h := New(exportServer(t, http.StatusOK, "application/pdf", "%PDF-binary"), ui, nil)

	outcome := h.Submit(context.Background(), "PDF")

	require.Equal(t, types.OutcomeDownloaded, outcome)
	require.Len(t, ui.downloads, 1)
	assert.Equal(t, "export.pdf", ui.downloads[0].filename)
	assert.Equal(t, []byte("%PDF-binary"), ui.downloads[0].data)
	assert.Equal(t, status{MsgDownloadComplete, types.StatusSuccess}, ui.last())
	assert.Empty(t, ui.input)
	assert.Equal(t, status{MsgProcessing, types.StatusProcessing}, ui.statuses[0])
	assert.Equal(t, []bool{false, true}, ui.triggerLog)
}

func TestExecuteLowercasesExtension(t *testing.T) {
	for _, docType := range []string{"MARKDOWN", "Html", "pdf"} {
		ui := &fakeUI{}
		exporter := &stubExporter{res: &types.Success{Payload: []byte("x")}}
		require.Equal(t, types.OutcomeDownloaded, New(exporter, ui, nil).Execute(context.Background(), "u", docType))
		require.Len(t, ui.downloads, 1)
		assert.Equal(t, types.ParseDocType(docType).Filename(), ui.downloads[0].filename)
		assert.Equal(t, types.ParseDocType(docType), exporter.reqs[0].DocType)
	}
}

func TestExecuteInvalidURL(t *testing.T) {
	bodies := []string{`{"message":"bad url"}`, `{"error":"INVALID_INPUT"}`, `not json at all`, ``}
	for _, body := range bodies {
		ui := &fakeUI{input: "github.com/nope"}
		h := New(exportServer(t, http.StatusUnprocessableEntity, "application/json", body), ui, nil)

		outcome := h.Submit(context.Background(), "PDF")

		assert.Equal(t, types.OutcomeInvalidInput, outcome, "body %q", body)
		assert.Equal(t, status{MsgInvalidURL, types.StatusError}, ui.last())
		assert.Empty(t, ui.downloads)
		assert.Equal(t, "github.com/nope", ui.input)
	}
}

func TestExecuteGenericServerErrors(t *testing.T) {
	for _, code := range []int{300, 400, 401, 403, 404, 429, 500, 502, 503} {
		ui := &fakeUI{}
		h := New(exportServer(t, code, "text/plain", "<<unparsable>>"), ui, nil)

		outcome := h.Execute(context.Background(), "https://github.com/org/repo", "HTML")

		assert.Equal(t, types.OutcomeFailed, outcome, "status %d", code)
		assert.Equal(t, status{MsgExportFailed, types.StatusError}, ui.last(), "status %d", code)
		assert.Empty(t, ui.downloads)
	}
}

func TestExecuteSuccessShapedError(t *testing.T) {
	ui := &fakeUI{input: "https://github.com/org/repo"}
	body := `{"error":"EXPORT_FAILED","message":"An error occurred. Please try again."}`
	h := New(exportServer(t, http.StatusOK, "application/json", body), ui, nil)

	outcome := h.Submit(context.Background(), "MARKDOWN")

	assert.Equal(t, types.OutcomeFailed, outcome)
	assert.Empty(t, ui.downloads)
	assert.Equal(t, status{"Error: An error occurred. Please try again.", types.StatusError}, ui.last())
	assert.Equal(t, "https://github.com/org/repo", ui.input)
}

func TestExecuteTransportError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	srv := httptest.NewServer(http.NotFoundHandler())
	client := api.New(api.Options{BaseURL: srv.URL, Timeout: time.Second, Logger: logger})
	srv.Close()

	ui := &fakeUI{}
	outcome := New(client, ui, logger).Execute(context.Background(), "https://github.com/org/repo", "PDF")

	assert.Equal(t, types.OutcomeFailed, outcome)
	assert.Equal(t, status{MsgUnexpected, types.StatusError}, ui.last())
	assert.Empty(t, ui.downloads)

	errorLogs := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, errorLogs, 1, "a failed request is reported once")
	assert.Equal(t, "error sending export request", errorLogs[0].Message)
}

func TestExecuteClientTimeoutLoggedOnce(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	defer close(release)
	client := api.New(api.Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond, Logger: logger})

	ui := &fakeUI{}
	outcome := New(client, ui, logger).Execute(context.Background(), "https://github.com/org/repo", "PDF")

	assert.Equal(t, types.OutcomeFailed, outcome)
	assert.Equal(t, status{MsgUnexpected, types.StatusError}, ui.last())
	errorLogs := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, errorLogs, 1)
	assert.Equal(t, "export request timed out", errorLogs[0].Message)
}

func TestExecuteTimeout(t *testing.T) {
	ui := &fakeUI{}
	exporter := &stubExporter{res: &types.TimeoutError{After: time.Second}}

	outcome := New(exporter, ui, nil).Execute(context.Background(), "u", "PDF")

	assert.Equal(t, types.OutcomeFailed, outcome)
	assert.Equal(t, status{MsgUnexpected, types.StatusError}, ui.last())
}

func TestExecuteDownloadFailure(t *testing.T) {
	ui := &fakeUI{input: "u", downloadErr: errors.New("disk full")}
	exporter := &stubExporter{res: &types.Success{Payload: []byte("x")}}

	outcome := New(exporter, ui, nil).Submit(context.Background(), "PDF")

	assert.Equal(t, types.OutcomeFailed, outcome)
	assert.Equal(t, status{MsgUnexpected, types.StatusError}, ui.last())
	assert.Equal(t, "u", ui.input)
}

func TestExecuteNilResponseStillTerminates(t *testing.T) {
	ui := &fakeUI{}
	outcome := New(&stubExporter{}, ui, nil).Execute(context.Background(), "u", "PDF")

	assert.Equal(t, types.OutcomeFailed, outcome)
	assert.NotEqual(t, types.StatusProcessing, ui.last().kind)
}

func TestExecuteIsRepeatable(t *testing.T) {
	client := exportServer(t, http.StatusOK, "text/markdown", "# Home")

	var outcomes []types.Outcome
	var finals []status
	for range 2 {
		ui := &fakeUI{input: "https://github.com/org/repo/wiki"}
		outcomes = append(outcomes, New(client, ui, nil).Submit(context.Background(), "MARKDOWN"))
		finals = append(finals, ui.last())
	}

	assert.Equal(t, outcomes[0], outcomes[1])
	assert.Equal(t, finals[0], finals[1])
}

type blockingExporter struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingExporter) Export(ctx context.Context, _ types.ExportRequest) types.ExportResponse {
	close(b.started)
	<-b.release
	return &types.Success{Payload: []byte("x")}
}

func TestExecuteRejectsDoubleSubmit(t *testing.T) {
	exporter := &blockingExporter{started: make(chan struct{}), release: make(chan struct{})}
	ui := &fakeUI{}
	h := New(exporter, ui, nil)

	done := make(chan types.Outcome)
	go func() {
		done <- h.Execute(context.Background(), "u", "PDF")
	}()
	<-exporter.started

	assert.Equal(t, types.OutcomeRejected, h.Execute(context.Background(), "u", "PDF"))

	close(exporter.release)
	assert.Equal(t, types.OutcomeDownloaded, <-done)
	assert.Len(t, ui.downloads, 1)

	// the guard is released once the first call finishes
	exporter2 := &stubExporter{res: &types.Success{Payload: []byte("y")}}
	h.exporter = exporter2
	assert.Equal(t, types.OutcomeDownloaded, h.Execute(context.Background(), "u", "PDF"))
}

func TestFormatChanged(t *testing.T) {
	ui := &fakeUI{}
	h := New(&stubExporter{}, ui, nil)

	h.FormatChanged("PDF")
	assert.Equal(t, status{MsgPDFWarning, types.StatusWarning}, ui.last())

	h.FormatChanged("HTML")
	assert.Equal(t, status{MsgPrompt, types.StatusIdle}, ui.last())
}

func TestPresent(t *testing.T) {
	tests := []struct {
		res  types.ExportResponse
		want Presentation
	}{
		{&types.Success{}, Presentation{MsgDownloadComplete, types.StatusSuccess, types.OutcomeDownloaded}},
		{&types.ServerError{StatusCode: 422}, Presentation{MsgInvalidURL, types.StatusError, types.OutcomeInvalidInput}},
		{&types.ServerError{StatusCode: 400}, Presentation{MsgExportFailed, types.StatusError, types.OutcomeFailed}},
		{&types.SuccessShapedError{Message: "Unknown error"}, Presentation{"Error: Unknown error", types.StatusError, types.OutcomeFailed}},
		{&types.TransportError{Err: errors.New("dns")}, Presentation{MsgUnexpected, types.StatusError, types.OutcomeFailed}},
		{&types.TimeoutError{}, Presentation{MsgUnexpected, types.StatusError, types.OutcomeFailed}},
		{nil, Presentation{MsgUnexpected, types.StatusError, types.OutcomeFailed}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Present(tt.res), "%T", tt.res)
	}
}
