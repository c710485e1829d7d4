package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"homeescrow/core/events"
	"homeescrow/core/types"
	"homeescrow/observability/metrics"
)

// Request headers set on every delivery.
const (
	HeaderEvent     = "X-Home-Event"
	HeaderDelivery  = "X-Home-Delivery"
	HeaderTimestamp = "X-Home-Timestamp"
	HeaderSignature = "X-Home-Signature"
)

// ErrClosed is returned when enqueueing on a stopped dispatcher.
var ErrClosed = errors.New("webhook: dispatcher closed")

// deliveryNamespace derives stable delivery ids so receivers can drop
// redelivered events.
var deliveryNamespace = uuid.MustParse("5f3c1f0e-8a0b-4d43-9a7e-2c1d8f6a4b10")

// Payload is the JSON body posted for a committed listing event.
type Payload struct {
	DeliveryID string            `json:"deliveryId"`
	Type       string            `json:"type"`
	Sequence   uint64            `json:"sequence"`
	Timestamp  int64             `json:"timestamp"`
	Attributes map[string]string `json:"attributes"`
}

// Retry bounds redelivery of a failed post.
type Retry struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

func (r Retry) delay(attempt int) time.Duration {
	d := r.Initial
	for i := 1; i < attempt && d < r.Max; i++ {
		d *= 2
	}
	if d > r.Max {
		d = r.Max
	}
	return d
}

// Config configures a Dispatcher. Endpoint and Secret are required.
type Config struct {
	Endpoint  string
	Secret    []byte
	Client    *http.Client
	Retry     Retry
	QueueSize int
	Logger    *slog.Logger
	// Meter records the OTLP drop and retry counters. Defaults to the global
	// meter provider.
	Meter metric.Meter
}

func (c *Config) applyDefaults() {
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 15 * time.Second}
	}
	if c.Retry.Attempts <= 0 {
		c.Retry.Attempts = 5
	}
	if c.Retry.Initial <= 0 {
		c.Retry.Initial = 2 * time.Second
	}
	if c.Retry.Max < c.Retry.Initial {
		c.Retry.Max = 15 * c.Retry.Initial
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type job struct {
	payload Payload
	body    []byte
}

// Dispatcher posts listing events to a single endpoint from one background
// worker. It implements events.Emitter.
type Dispatcher struct {
	cfg     Config
	metrics *metrics.WebhookMetrics
	otel    *otelCounters
	now     func() time.Time

	queue chan job
	stop  chan struct{}
	once  sync.Once
	done  sync.WaitGroup
}

// New validates cfg and starts the delivery worker.
func New(cfg Config) (*Dispatcher, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(cfg.Secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	cfg.Secret = append([]byte(nil), cfg.Secret...)
	cfg.applyDefaults()
	d := &Dispatcher{
		cfg:     cfg,
		metrics: metrics.Webhook(),
		otel:    newOtelCounters(cfg.Meter),
		now:     time.Now,
		queue:   make(chan job, cfg.QueueSize),
		stop:    make(chan struct{}),
	}
	d.done.Add(1)
	go d.run()
	return d, nil
}

// Close stops the worker. Queued events that were not yet posted are lost.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() { close(d.stop) })
	d.done.Wait()
}

// Emit queues evt without blocking. A full queue drops the event and counts
// the drop.
func (d *Dispatcher) Emit(evt events.Event) {
	body, ok := events.Body(evt)
	if !ok {
		return
	}
	j, err := encode(body)
	if err != nil {
		d.cfg.Logger.Warn("webhook encode failed", slog.String("event", body.Type), slog.Any("error", err))
		return
	}
	select {
	case <-d.stop:
		return
	default:
	}
	select {
	case d.queue <- j:
	default:
		d.metrics.RecordQueueDrop()
		d.otel.recordDropped(dropQueueFull, body.Type)
		d.cfg.Logger.Warn("webhook queue full",
			slog.String("event", body.Type),
			slog.Uint64("sequence", body.Sequence))
	}
}

// Enqueue queues evt, waiting for room until ctx ends or the dispatcher
// closes.
func (d *Dispatcher) Enqueue(ctx context.Context, evt *types.Event) error {
	if evt == nil {
		return errors.New("webhook: nil event")
	}
	j, err := encode(evt)
	if err != nil {
		return err
	}
	select {
	case <-d.stop:
		return ErrClosed
	default:
	}
	select {
	case d.queue <- j:
		return nil
	case <-d.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func encode(evt *types.Event) (job, error) {
	p := Payload{
		DeliveryID: uuid.NewSHA1(deliveryNamespace, []byte(evt.Type+"/"+strconv.FormatUint(evt.Sequence, 10))).String(),
		Type:       evt.Type,
		Sequence:   evt.Sequence,
		Timestamp:  evt.Timestamp,
		Attributes: evt.Attributes,
	}
	if p.Attributes == nil {
		p.Attributes = map[string]string{}
	}
	body, err := json.Marshal(p)
	if err != nil {
		return job{}, err
	}
	return job{payload: p, body: body}, nil
}

func (d *Dispatcher) run() {
	defer d.done.Done()
	for {
		select {
		case <-d.stop:
			return
		case j := <-d.queue:
			d.deliver(j)
		}
	}
}

func (d *Dispatcher) deliver(j job) {
	log := d.cfg.Logger.With(
		slog.String("event", j.payload.Type),
		slog.String("delivery", j.payload.DeliveryID))
	for attempt := 1; ; attempt++ {
		wait, err := d.post(j)
		if err == nil {
			d.metrics.RecordDelivery(j.payload.Type)
			return
		}
		d.metrics.RecordFailure(j.payload.Type)
		if attempt >= d.cfg.Retry.Attempts {
			d.otel.recordDropped(dropAbandoned, j.payload.Type)
			log.Error("webhook delivery abandoned", slog.Int("attempts", attempt), slog.Any("error", err))
			return
		}
		if wait <= 0 {
			wait = d.cfg.Retry.delay(attempt)
		}
		d.otel.recordRetry(j.payload.Type)
		log.Debug("webhook delivery retry", slog.Int("attempt", attempt), slog.Duration("wait", wait), slog.Any("error", err))
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-d.stop:
			timer.Stop()
			return
		}
	}
}

// post sends one attempt. A positive duration is the server's Retry-After
// hint.
func (d *Dispatcher) post(j job) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Client.Timeout)
	defer cancel()
	go func() {
		select {
		case <-d.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ts := strconv.FormatInt(d.now().Unix(), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.Endpoint, bytes.NewReader(j.body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, j.payload.Type)
	req.Header.Set(HeaderDelivery, j.payload.DeliveryID)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, Sign(d.cfg.Secret, ts, j.body))
	resp, err := d.cfg.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return 0, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		return retryAfter(resp.Header.Get("Retry-After"), d.cfg.Retry.Max), fmt.Errorf("webhook: endpoint busy (%d)", resp.StatusCode)
	default:
		return 0, fmt.Errorf("webhook: endpoint returned %d", resp.StatusCode)
	}
}

func retryAfter(header string, limit time.Duration) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs <= 0 {
		return 0
	}
	if wait := time.Duration(secs) * time.Second; wait < limit {
		return wait
	}
	return limit
}

// Sign computes the signature header for body sent at timestamp ts. The MAC
// covers "ts.body" so a captured request cannot be replayed with a new
// timestamp.
func Sign(secret []byte, ts string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return "v1=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign and rejects timestamps older
// than tolerance. A zero tolerance skips the age check.
func Verify(secret []byte, ts string, body []byte, signature string, tolerance time.Duration, now time.Time) bool {
	if tolerance > 0 {
		sent, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return false
		}
		if age := now.Sub(time.Unix(sent, 0)); age > tolerance || age < -tolerance {
			return false
		}
	}
	return hmac.Equal([]byte(Sign(secret, ts, body)), []byte(strings.TrimSpace(signature)))
}
