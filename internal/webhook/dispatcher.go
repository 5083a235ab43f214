package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/panjf2000/ants/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/tradSys/internal/circuitry"
	"github.com/abdoElHodaky/tradSys/internal/retry"
)

// Settings configures dispatch timing (spec §4.4, §6).
type Settings struct {
	Timeout         time.Duration
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	Jitter          float64
	GzipThreshold   int // bytes; payloads at or above this size are gzip-compressed
	WorkerPoolSize  int
}

// Recipient is one participant's registered callback endpoint (spec §3 ParticipantAccount
// webhook fields).
type Recipient struct {
	ParticipantID string
	URL           string
	Secret        string // HMAC shared secret; empty means unsigned
}

// Outcome is the per-recipient dispatch result (spec §4.4 "Output").
type Outcome struct {
	ParticipantID         string
	Success               bool
	StatusCode            int
	Actions               []ActionRequest
	Err                    error
	ResponseTimeMS         int64
	Attempts               int
	CircuitBreakerSkipped bool
}

// AccountingUpdate is what the caller should persist back to the participant's account after a
// terminal outcome (spec §4.4 "Accounting").
type AccountingUpdate struct {
	ParticipantID        string
	ClearError           bool
	LastWebhookError     string
	LastWebhookSuccessAt time.Time
	IncrementFailures    bool
	ResetFailures        bool
}

// Dispatcher delivers tick payloads to every recipient in parallel (spec §4.4 "Concurrency").
type Dispatcher struct {
	settings Settings
	breakers *circuitry.Registry
	client   *http.Client
	pool     *ants.Pool
	logger   *zap.Logger
}

// New constructs a Dispatcher. breakers is shared with the rest of the engine so
// /debug/circuits can report the same state this dispatcher observes.
func New(settings Settings, breakers *circuitry.Registry, logger *zap.Logger) (*Dispatcher, error) {
	pool, err := ants.NewPool(settings.WorkerPoolSize)
	if err != nil {
		return nil, fmt.Errorf("webhook: failed to create worker pool: %w", err)
	}
	return &Dispatcher{
		settings: settings,
		breakers: breakers,
		client:   &http.Client{Timeout: settings.Timeout},
		pool:     pool,
		logger:   logger,
	}, nil
}

// Close releases the dispatcher's worker pool.
func (d *Dispatcher) Close() {
	d.pool.Release()
}

// DispatchAll delivers payload to every recipient concurrently and blocks until every call has
// a terminal outcome (spec §4.4 "Concurrency").
func (d *Dispatcher) DispatchAll(ctx context.Context, recipients []Recipient, payloadFor func(participantID string) (*Payload, error)) []Outcome {
	var wg sync.WaitGroup
	outcomes := make([]Outcome, len(recipients))

	for i, r := range recipients {
		i, r := i, r
		wg.Add(1)
		submitErr := d.pool.Submit(func() {
			defer wg.Done()
			payload, err := payloadFor(r.ParticipantID)
			if err != nil {
				outcomes[i] = Outcome{ParticipantID: r.ParticipantID, Success: false, Err: err}
				return
			}
			outcomes[i] = d.dispatchOne(ctx, r, payload)
		})
		if submitErr != nil {
			wg.Done()
			outcomes[i] = Outcome{ParticipantID: r.ParticipantID, Success: false, Err: submitErr}
		}
	}

	wg.Wait()
	return outcomes
}

func (d *Dispatcher) dispatchOne(ctx context.Context, r Recipient, payload *Payload) Outcome {
	start := time.Now()

	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{ParticipantID: r.ParticipantID, Err: fmt.Errorf("webhook: marshal payload: %w", err)}
	}

	compressed := false
	if d.settings.GzipThreshold > 0 && len(body) >= d.settings.GzipThreshold {
		if gz, gzErr := gzipBytes(body); gzErr == nil {
			body = gz
			compressed = true
		}
	}

	result, err := circuitry.Execute(d.breakers, r.ParticipantID, func() (*dispatchResult, error) {
		return d.sendWithRetry(ctx, r, payload.Tick, body, compressed)
	})

	if errors.Is(err, gobreaker.ErrOpenState) {
		return Outcome{
			ParticipantID:         r.ParticipantID,
			CircuitBreakerSkipped: true,
			ResponseTimeMS:        time.Since(start).Milliseconds(),
		}
	}

	if err != nil {
		attempts := 0
		if result != nil {
			attempts = result.attempts
		}
		return Outcome{
			ParticipantID:  r.ParticipantID,
			Success:        false,
			Err:            err,
			Attempts:       attempts,
			ResponseTimeMS: time.Since(start).Milliseconds(),
		}
	}

	return Outcome{
		ParticipantID:  r.ParticipantID,
		Success:        true,
		StatusCode:     result.statusCode,
		Actions:        result.actions,
		Attempts:       result.attempts,
		ResponseTimeMS: time.Since(start).Milliseconds(),
	}
}

type dispatchResult struct {
	statusCode int
	actions    []ActionRequest
	attempts   int
}

// retryableHTTPError carries the status code (if any) so ShouldRetry can classify it without
// re-parsing the response.
type retryableHTTPError struct {
	statusCode int // 0 means connection-level error, no response received
	timeout    bool
}

func (e *retryableHTTPError) Error() string {
	if e.statusCode == 0 {
		return "webhook: connection error"
	}
	return fmt.Sprintf("webhook: unexpected status %d", e.statusCode)
}

func isRetryable(err error) bool {
	var httpErr *retryableHTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	if httpErr.timeout || httpErr.statusCode == 0 {
		return true
	}
	return httpErr.statusCode == http.StatusTooManyRequests || httpErr.statusCode >= 500
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, r Recipient, tick int64, body []byte, compressed bool) (*dispatchResult, error) {
	attempts := 0
	result, err := retry.DoWithResult(ctx, retry.Policy{
		MaxRetries:  d.settings.MaxRetries,
		BaseDelay:   d.settings.BaseDelay,
		MaxDelay:    d.settings.MaxDelay,
		Jitter:      d.settings.Jitter,
		ShouldRetry: isRetryable,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			d.logger.Debug("retrying webhook dispatch",
				zap.String("participant_id", r.ParticipantID),
				zap.Int("attempt", attempt),
				zap.Error(err),
				zap.Duration("wait", wait))
		},
	}, func() (*dispatchResult, error) {
		attempts++
		return d.sendOnce(ctx, r, tick, body, compressed)
	})
	if result == nil {
		result = &dispatchResult{}
	}
	result.attempts = attempts
	return result, err
}

func (d *Dispatcher) sendOnce(ctx context.Context, r Recipient, tick int64, body []byte, compressed bool) (*dispatchResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, d.settings.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tick", strconv.FormatInt(tick, 10))
	req.Header.Set("X-Agent", r.ParticipantID)
	if compressed {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if r.Secret != "" {
		req.Header.Set("X-Signature", sign(r.Secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		timeout := reqCtx.Err() == context.DeadlineExceeded
		return nil, &retryableHTTPError{timeout: timeout}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableHTTPError{statusCode: resp.StatusCode}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &retryableHTTPError{statusCode: resp.StatusCode}
	}

	var parsed ResponseBody
	if jsonErr := json.Unmarshal(respBody, &parsed); jsonErr != nil {
		// "Any 2xx with non-JSON body is treated as no actions" (spec §6).
		return &dispatchResult{statusCode: resp.StatusCode}, nil
	}
	return &dispatchResult{statusCode: resp.StatusCode, actions: parsed.Actions}, nil
}

// sign computes the HMAC-SHA256 signature header value over the exact bytes sent on the wire
// (spec §4.4 "Signing", §6 "sha256=<hex>").
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func gzipBytes(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// AccountingFor derives the account bookkeeping update for one terminal outcome (spec §4.4
// "Accounting"). Skipped outcomes (breaker open) return a no-op update.
func AccountingFor(o Outcome) AccountingUpdate {
	if o.CircuitBreakerSkipped {
		return AccountingUpdate{ParticipantID: o.ParticipantID}
	}
	if o.Success {
		return AccountingUpdate{
			ParticipantID:        o.ParticipantID,
			ClearError:           true,
			LastWebhookSuccessAt: time.Now(),
			ResetFailures:        true,
		}
	}
	msg := ""
	if o.Err != nil {
		msg = o.Err.Error()
	}
	return AccountingUpdate{
		ParticipantID:     o.ParticipantID,
		LastWebhookError:  msg,
		IncrementFailures: true,
	}
}
