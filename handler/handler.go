// Package handler turns one user export action into exactly one terminal
// status: a saved download, an invalid-input error or a generic failure.
package handler

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/stenstromen/wikiexport/metrics"
	"github.com/stenstromen/wikiexport/types"
	"go.uber.org/zap"
)

const (
	MsgPrompt           = "Enter a valid github wiki URL and select the export format."
	MsgPDFWarning       = "Warning: PDF export may not preserve all formatting or images."
	MsgProcessing       = "Processing..."
	MsgDownloadComplete = "Download complete!"
	MsgInvalidURL       = "Invalid URL: please enter a valid GitHub wiki URL."
	MsgExportFailed     = "Export failed. Please try again."
	MsgUnexpected       = "An unexpected error occurred. Please try again."
)

// UI is everything the handler needs from the front end.
type UI interface {
	Input() string
	ClearInput()
	SetStatus(text string, kind types.StatusKind)
	// SetTriggerEnabled toggles the control that starts an export.
	SetTriggerEnabled(enabled bool)
	// TriggerDownload hands the exported file to the user. Anything it
	// allocates for the transfer must be released before it returns.
	TriggerDownload(ctx context.Context, data []byte, filename string) error
}

type Exporter interface {
	Export(ctx context.Context, req types.ExportRequest) types.ExportResponse
}

var ErrBusy = errors.New("an export is already in progress")

type Handler struct {
	exporter Exporter
	ui       UI
	logger   *zap.Logger
	inFlight atomic.Bool
}

func New(exporter Exporter, ui UI, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{exporter: exporter, ui: ui, logger: logger}
}

// Submit exports whatever URL the UI currently holds.
func (h *Handler) Submit(ctx context.Context, docType string) types.Outcome {
	return h.Execute(ctx, h.ui.Input(), docType)
}

// Execute runs one export. A call made while another is still running is
// rejected without touching the status.
func (h *Handler) Execute(ctx context.Context, wikiURL, docType string) types.Outcome {
	if !h.inFlight.CompareAndSwap(false, true) {
		h.logger.Warn("export rejected", zap.Error(ErrBusy), zap.String("wiki_url", wikiURL))
		metrics.ExportsTotal.WithLabelValues(string(types.OutcomeRejected)).Inc()
		return types.OutcomeRejected
	}
	defer h.inFlight.Store(false)

	h.ui.SetTriggerEnabled(false)
	defer h.ui.SetTriggerEnabled(true)

	req := types.ExportRequest{WikiURL: wikiURL, DocType: types.ParseDocType(docType)}
	h.ui.SetStatus(MsgProcessing, types.StatusProcessing)

	start := time.Now()
	res := h.exporter.Export(ctx, req)
	metrics.ExportDuration.Observe(time.Since(start).Seconds())
	metrics.ResponsesTotal.WithLabelValues(kindOf(res)).Inc()

	outcome := h.finish(ctx, req, res)
	metrics.ExportsTotal.WithLabelValues(string(outcome)).Inc()
	return outcome
}

func (h *Handler) finish(ctx context.Context, req types.ExportRequest, res types.ExportResponse) types.Outcome {
	switch r := res.(type) {
	case *types.Success:
		filename := req.DocType.Filename()
		if err := h.ui.TriggerDownload(ctx, r.Payload, filename); err != nil {
			h.logger.Error("error saving export", zap.String("filename", filename), zap.Error(err))
			h.ui.SetStatus(MsgUnexpected, types.StatusError)
			return types.OutcomeFailed
		}
		h.ui.ClearInput()
		h.logger.Info("export downloaded",
			zap.String("filename", filename),
			zap.String("suggested_filename", r.SuggestedFilename),
			zap.Int("bytes", len(r.Payload)),
		)
	case *types.ServerError:
		h.logger.Warn("export server error",
			zap.Int("status", r.StatusCode),
			zap.String("message", r.Message),
			zap.Any("body", r.Body),
		)
	case *types.SuccessShapedError:
		h.logger.Warn("export failed on server", zap.String("message", r.Message), zap.Any("body", r.Body))
	case *types.TransportError:
		h.logger.Error("error sending export request", zap.Error(r.Err))
	case *types.TimeoutError:
		h.logger.Error("export request timed out", zap.Duration("after", r.After))
	default:
		h.logger.Error("unexpected export response", zap.Any("response", res))
	}

	p := Present(res)
	h.ui.SetStatus(p.Text, p.Kind)
	return p.Outcome
}

// FormatChanged shows the PDF caveat while PDF is selected.
func (h *Handler) FormatChanged(docType string) {
	if types.ParseDocType(docType) == types.DocTypePDF {
		h.ui.SetStatus(MsgPDFWarning, types.StatusWarning)
		return
	}
	h.ui.SetStatus(MsgPrompt, types.StatusIdle)
}

type Presentation struct {
	Text    string
	Kind    types.StatusKind
	Outcome types.Outcome
}

// Present maps a response to what the user sees. It has no side effects.
func Present(res types.ExportResponse) Presentation {
	switch r := res.(type) {
	case *types.Success:
		return Presentation{MsgDownloadComplete, types.StatusSuccess, types.OutcomeDownloaded}
	case *types.ServerError:
		if r.StatusCode == http.StatusUnprocessableEntity {
			return Presentation{MsgInvalidURL, types.StatusError, types.OutcomeInvalidInput}
		}
		return Presentation{MsgExportFailed, types.StatusError, types.OutcomeFailed}
	case *types.SuccessShapedError:
		return Presentation{"Error: " + r.Message, types.StatusError, types.OutcomeFailed}
	}
	return Presentation{MsgUnexpected, types.StatusError, types.OutcomeFailed}
}

func kindOf(res types.ExportResponse) string {
	switch res.(type) {
	case *types.Success:
		return "success"
	case *types.ServerError:
		return "server_error"
	case *types.SuccessShapedError:
		return "success_shaped_error"
	case *types.TransportError:
		return "transport_error"
	case *types.TimeoutError:
		return "timeout"
	}
	return "unknown"
}
