// Package report sends accepted scale measurements to their consumers: the
// measurement store over HTTP and, optionally, a Kafka topic.
package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/chaz8081/miscale-bridge/internal/ble/protocol"
)

// ReportError is a failed delivery. StatusCode is zero for network errors.
type ReportError struct {
	Sink       string
	StatusCode int
	Err        error
}

func (e *ReportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("report: %s: status %d: %v", e.Sink, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("report: %s: %v", e.Sink, e.Err)
}

func (e *ReportError) Unwrap() error { return e.Err }

// Reporter delivers a measurement to one sink.
type Reporter interface {
	Report(ctx context.Context, m protocol.Measurement) error
}

// Multi reports to every sink and joins their errors. One failing sink does
// not stop delivery to the others.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, meas protocol.Measurement) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(ctx, meas); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
