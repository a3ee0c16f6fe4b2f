package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/miscale-bridge/internal/ble/protocol"
	"github.com/chaz8081/miscale-bridge/internal/store"
)

// RequestIDHeader carries a per-report id that the store echoes into its logs.
const RequestIDHeader = "X-Request-Id"

// HTTPReporter posts measurements to the measurement store.
type HTTPReporter struct {
	baseURL string
	client  *http.Client
}

// NewHTTPReporter creates a reporter for the store API rooted at baseURL,
// e.g. "http://localhost:8000/api".
func NewHTTPReporter(baseURL string, timeout time.Duration) (*HTTPReporter, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("report: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("report: url must be http or https, got %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPReporter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Report sends m and discards the created record.
func (r *HTTPReporter) Report(ctx context.Context, m protocol.Measurement) error {
	_, err := r.Post(ctx, m)
	return err
}

// Post sends m and returns the record the store created for it.
func (r *HTTPReporter) Post(ctx context.Context, m protocol.Measurement) (*store.Record, error) {
	q := url.Values{}
	q.Set("weight", strconv.FormatFloat(m.Weight, 'f', -1, 64))
	q.Set("impedance", strconv.Itoa(m.Impedance))
	q.Set("height", strconv.FormatFloat(m.Height, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/measurement?"+q.Encode(), nil)
	if err != nil {
		return nil, &ReportError{Sink: "http", Err: err}
	}
	reqID := uuid.NewString()
	req.Header.Set(RequestIDHeader, reqID)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &ReportError{Sink: "http", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ReportError{
			Sink:       "http",
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(body))),
		}
	}

	var rec store.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, &ReportError{Sink: "http", StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	slog.Info("[REPORT] measurement sent to store", "request_id", reqID, "timestamp", rec.Timestamp)
	return &rec, nil
}
