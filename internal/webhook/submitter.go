package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultPath is the service's own webhook sink, used when neither the map
// data nor the configuration names an endpoint.
const DefaultPath = "/api/v1/webhooks/assignments"

// DefaultTimeout bounds a single delivery.
const DefaultTimeout = 10 * time.Second

// ErrRejected is returned when the endpoint answers with a non-2xx status.
var ErrRejected = errors.New("webhook rejected")

// Submitter delivers events.
type Submitter struct {
	Client *http.Client
	// Opaque ignores the response status, counting only transport errors as
	// failures. This matches a fire-and-forget cross-origin POST.
	Opaque bool
	Logger *zap.Logger
}

// NewSubmitter returns a submitter with a timeout-bounded client.
func NewSubmitter(opaque bool, logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{
		Client: &http.Client{Timeout: DefaultTimeout},
		Opaque: opaque,
		Logger: logger.Named("webhook"),
	}
}

// Submit POSTs ev as a form to endpoint. Any returned error means the change
// should be rolled back.
func (s *Submitter) Submit(ctx context.Context, endpoint string, ev Event) error {
	form, err := ev.Form()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		log.Warn("webhook delivery failed",
			zap.String("event", ev.ID), zap.String("shape", ev.ShapeID), zap.Error(err))
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	log.Info("webhook delivered",
		zap.String("event", ev.ID),
		zap.String("type", ev.Type),
		zap.String("shape", ev.ShapeID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	if s.Opaque || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrRejected, resp.Status)
}

// ResolveURL picks the delivery endpoint: the per-map override, then the
// configured URL, then base+DefaultPath.
func ResolveURL(override, configured, base string) string {
	for _, u := range []string{override, configured} {
		if u = strings.TrimSpace(u); u != "" {
			return u
		}
	}
	return strings.TrimRight(base, "/") + DefaultPath
}
