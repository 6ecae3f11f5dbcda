package storeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/hackgods/clinic-appointment-booking/internal/api"
	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
	"github.com/hackgods/clinic-appointment-booking/internal/config"
	"github.com/hackgods/clinic-appointment-booking/internal/metrics"
	redisclient "github.com/hackgods/clinic-appointment-booking/internal/redis"
)

const maxBody = 1 << 20

// Client is an appointment.Store backed by the api-server over HTTP. Domain
// rejections come back as the matching taxonomy error; transport failures,
// 5xx answers and an open breaker come back as *appointment.StorageError.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
	log     zerolog.Logger
}

var _ appointment.Store = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l.With().Str("component", "store_client").Logger() }
}

func New(cfg config.ClientConfig, m *metrics.Collector, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		http:    &http.Client{Timeout: cfg.StoreTimeout},
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 1
	}

	c.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "appointment-store",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: countsAsHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("breaker state changed")
			if m != nil {
				m.BreakerStateChanges.WithLabelValues(to.String()).Inc()
			}
		},
	})
	return c
}

// countsAsHealthy keeps domain rejections, lock contention and caller
// cancellations from tripping the breaker.
func countsAsHealthy(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, context.Canceled), errors.Is(err, redisclient.ErrLockNotAcquired):
		return true
	case errors.Is(err, appointment.ErrValidation),
		errors.Is(err, appointment.ErrConflict),
		errors.Is(err, appointment.ErrNotFound):
		return true
	default:
		return false
	}
}

func (c *Client) List(ctx context.Context, f appointment.Filter) ([]appointment.Appointment, error) {
	q := url.Values{}
	if f.DoctorID != "" {
		q.Set("doctor_id", f.DoctorID)
	}
	if f.Date != "" {
		q.Set("date", string(f.Date))
	}
	if f.PatientID != "" {
		q.Set("patient_id", f.PatientID)
	}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}

	path := "/appointments"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp api.ListResponse
	if err := c.do(ctx, call{op: "list", method: http.MethodGet, path: path, out: &resp}); err != nil {
		return nil, err
	}
	return resp.Appointments, nil
}

func (c *Client) Get(ctx context.Context, id string) (*appointment.Appointment, error) {
	var a appointment.Appointment
	if err := c.do(ctx, call{op: "get", method: http.MethodGet, path: itemPath(id), id: id, out: &a}); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) Create(ctx context.Context, d appointment.Draft) (*appointment.Appointment, error) {
	var a appointment.Appointment
	if err := c.do(ctx, call{op: "create", method: http.MethodPost, path: "/appointments", in: d, out: &a}); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) Update(ctx context.Context, id string, p appointment.Patch) (*appointment.Appointment, error) {
	var a appointment.Appointment
	if err := c.do(ctx, call{op: "update", method: http.MethodPatch, path: itemPath(id), id: id, in: p, out: &a}); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, call{op: "delete", method: http.MethodDelete, path: itemPath(id), id: id})
}

func itemPath(id string) string {
	return "/appointments/" + url.PathEscape(id)
}

type call struct {
	op     string
	method string
	path   string
	id     string
	in     any
	out    any
}

func (c *Client) do(ctx context.Context, cl call) error {
	var payload []byte
	if cl.in != nil {
		b, err := json.Marshal(cl.in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", cl.op, err)
		}
		payload = b
	}

	start := time.Now()
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.roundTrip(ctx, cl, payload)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &appointment.StorageError{Op: cl.op, Err: err}
	}

	ev := c.log.Debug()
	if err != nil && !countsAsHealthy(err) {
		ev = c.log.Warn().Err(err)
	}
	ev.Str("op", cl.op).Str("method", cl.method).Str("path", cl.path).Dur("duration", time.Since(start)).Msg("store call")
	return err
}

func (c *Client) roundTrip(ctx context.Context, cl call, payload []byte) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", cl.op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &appointment.StorageError{Op: cl.op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return &appointment.StorageError{Op: cl.op, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(cl, resp.StatusCode, data)
	}

	if cl.out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, cl.out); err != nil {
			return &appointment.StorageError{Op: cl.op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

// decodeError rebuilds the taxonomy error the server answered with.
func decodeError(cl call, status int, data []byte) error {
	var er api.ErrorResponse
	_ = json.Unmarshal(data, &er)

	switch status {
	case http.StatusBadRequest:
		fields := er.Fields
		if len(fields) == 0 {
			fields = []string{firstNonEmpty(er.Details, er.Error, "request rejected")}
		}
		return &appointment.ValidationError{Fields: fields}
	case http.StatusNotFound:
		return appointment.NotFound(firstNonEmpty(cl.id, cl.path))
	case http.StatusConflict:
		if d := er.Conflict; d != nil {
			return &appointment.ConflictError{
				DoctorID:   d.DoctorID,
				Date:       d.Date,
				Time:       d.Time,
				Duration:   d.Duration,
				ExistingID: d.ExistingID,
			}
		}
		return fmt.Errorf("%w: %s", appointment.ErrConflict, firstNonEmpty(er.Details, er.Error))
	}

	if er.Error == api.CodeSlotBeingBooked {
		return &appointment.StorageError{Op: cl.op, Err: redisclient.ErrLockNotAcquired}
	}
	return &appointment.StorageError{Op: cl.op, Err: fmt.Errorf("server answered %d %s", status, firstNonEmpty(er.Error, http.StatusText(status)))}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
