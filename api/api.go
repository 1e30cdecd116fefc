package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stenstromen/wikiexport/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	exportEndpoint = "/export"
	healthEndpoint = "/"

	unknownErrorMessage = "Unknown error"
)

type Options struct {
	BaseURL string
	// Timeout bounds a single export call. Zero means no deadline.
	Timeout    time.Duration
	Logger     *zap.Logger
	TracerName string
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

type Client struct {
	http    *resty.Client
	timeout time.Duration
	logger  *zap.Logger
}

func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracerName := opts.TracerName
	if tracerName == "" {
		tracerName = "wikiexport/api"
	}

	provider := opts.TracerProvider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetRetryCount(0)
	instrument(client, provider.Tracer(tracerName))

	return &Client{
		http:    client,
		timeout: opts.Timeout,
		logger:  logger,
	}
}

// Export sends one export request and classifies whatever comes back. It
// never retries.
func (c *Client) Export(ctx context.Context, req types.ExportRequest) types.ExportResponse {
	limit := c.limit(ctx, time.Now())
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.logger.Debug("sending export request",
		zap.String("wiki_url", req.WikiURL),
		zap.String("doc_type", string(req.DocType)),
	)

	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "*/*").
		SetBody(req).
		Post(exportEndpoint)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.logger.Debug("export request timed out", zap.Duration("after", limit), zap.Error(err))
			return &types.TimeoutError{After: limit}
		}
		c.logger.Debug("error sending export request", zap.Error(err))
		return &types.TransportError{Err: err}
	}

	c.logger.Debug("export response received",
		zap.Int("status", res.StatusCode()),
		zap.String("content_type", res.Header().Get("Content-Type")),
		zap.Int("bytes", len(res.Body())),
	)
	return Interpret(res.StatusCode(), res.Header(), res.Body())
}

// limit is the deadline that will cut the call short: the client timeout, or
// the caller's own deadline when that comes first.
func (c *Client) limit(ctx context.Context, start time.Time) time.Duration {
	limit := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := deadline.Sub(start).Round(time.Millisecond); limit == 0 || remaining < limit {
			limit = max(remaining, 0)
		}
	}
	return limit
}

// Ping checks that the export server answers at all.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.http.R().SetContext(ctx).Get(healthEndpoint)
	if err != nil {
		return fmt.Errorf("export server is not reachable: %w", err)
	}
	if res.StatusCode() >= http.StatusInternalServerError {
		return fmt.Errorf("export server is unhealthy: status %d", res.StatusCode())
	}
	return nil
}

type BodyKind int

const (
	Binary BodyKind = iota
	JSONError
)

func (k BodyKind) String() string {
	if k == JSONError {
		return "json"
	}
	return "binary"
}

func Classify(contentType string) BodyKind {
	if strings.Contains(strings.ToLower(contentType), "application/json") {
		return JSONError
	}
	return Binary
}

// Interpret turns a received response into exactly one ExportResponse
// variant. A JSON body on a 2xx status is the server's way of reporting a
// failed export.
func Interpret(status int, header http.Header, body []byte) types.ExportResponse {
	if status < 200 || status > 299 {
		parsed, msg := decodeMessage(body)
		return &types.ServerError{StatusCode: status, Message: msg, Body: parsed}
	}

	contentType := header.Get("Content-Type")
	if Classify(contentType) == JSONError {
		parsed, msg := decodeMessage(body)
		return &types.SuccessShapedError{Message: msg, Body: parsed}
	}

	return &types.Success{
		Payload:           body,
		SuggestedFilename: attachmentName(header.Get("Content-Disposition")),
		ContentType:       contentType,
	}
}

func decodeMessage(body []byte) (map[string]any, string) {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, unknownErrorMessage
	}
	msg, ok := parsed["message"].(string)
	if !ok || msg == "" {
		return parsed, unknownErrorMessage
	}
	return parsed, msg
}

func attachmentName(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}
