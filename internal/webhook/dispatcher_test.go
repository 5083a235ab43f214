package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/tradSys/internal/circuitry"
)

func testDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	breakers := circuitry.NewRegistry(circuitry.Settings{
		FailureThreshold:     5,
		HalfOpenSuccessCount: 2,
		RecoveryWindow:       50 * time.Millisecond,
	}, zap.NewNop())
	d, err := New(Settings{
		Timeout:        time.Second,
		MaxRetries:     2,
		BaseDelay:      time.Millisecond,
		MaxDelay:       10 * time.Millisecond,
		Jitter:         0,
		GzipThreshold:  1 << 20,
		WorkerPoolSize: 8,
	}, breakers, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d
}

func simplePayload() *Payload {
	return &Payload{Tick: 1, Timestamp: time.Now()}
}

func TestDispatcher_SuccessfulCallReturnsActions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.Header.Get("X-Tick"))
		assert.Equal(t, "agent-1", r.Header.Get("X-Agent"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ResponseBody{Actions: []ActionRequest{{Type: "BUY"}}})
	}))
	defer server.Close()

	d := testDispatcher(t)
	outcomes := d.DispatchAll(context.Background(), []Recipient{{ParticipantID: "agent-1", URL: server.URL}}, func(string) (*Payload, error) {
		return simplePayload(), nil
	})

	require.Len(t, outcomes, 1)
	o := outcomes[0]
	assert.True(t, o.Success)
	require.Len(t, o.Actions, 1)
	assert.Equal(t, "BUY", o.Actions[0].Type)
	assert.Equal(t, 1, o.Attempts)
}

func TestDispatcher_RetriesOn500ThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ResponseBody{Actions: nil})
	}))
	defer server.Close()

	d := testDispatcher(t)
	outcomes := d.DispatchAll(context.Background(), []Recipient{{ParticipantID: "agent-1", URL: server.URL}}, func(string) (*Payload, error) {
		return simplePayload(), nil
	})

	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)
	assert.Equal(t, 2, outcomes[0].Attempts)
}

func TestDispatcher_DoesNotRetry400(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	d := testDispatcher(t)
	outcomes := d.DispatchAll(context.Background(), []Recipient{{ParticipantID: "agent-1", URL: server.URL}}, func(string) (*Payload, error) {
		return simplePayload(), nil
	})

	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Success)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDispatcher_SignsBodyWhenSecretSet(t *testing.T) {
	const secret = "shh"
	var gotSig string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ResponseBody{})
	}))
	defer server.Close()

	d := testDispatcher(t)
	d.DispatchAll(context.Background(), []Recipient{{ParticipantID: "agent-1", URL: server.URL, Secret: secret}}, func(string) (*Payload, error) {
		return simplePayload(), nil
	})

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, gotSig)
}

func TestDispatcher_CircuitOpenSkipsCall(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	breakers := circuitry.NewRegistry(circuitry.Settings{
		FailureThreshold:     1,
		HalfOpenSuccessCount: 1,
		RecoveryWindow:       time.Hour,
	}, zap.NewNop())
	d, err := New(Settings{
		Timeout: time.Second, MaxRetries: 0, BaseDelay: time.Millisecond, WorkerPoolSize: 4,
	}, breakers, zap.NewNop())
	require.NoError(t, err)
	defer d.Close()

	recipients := []Recipient{{ParticipantID: "agent-1", URL: server.URL}}
	d.DispatchAll(context.Background(), recipients, func(string) (*Payload, error) { return simplePayload(), nil })

	outcomes := d.DispatchAll(context.Background(), recipients, func(string) (*Payload, error) { return simplePayload(), nil })
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].CircuitBreakerSkipped)
}

func TestAccountingFor_SuccessResetsFailures(t *testing.T) {
	u := AccountingFor(Outcome{ParticipantID: "agent-1", Success: true})
	assert.True(t, u.ResetFailures)
	assert.True(t, u.ClearError)
}

func TestAccountingFor_SkippedIsNoOp(t *testing.T) {
	u := AccountingFor(Outcome{ParticipantID: "agent-1", CircuitBreakerSkipped: true})
	assert.False(t, u.IncrementFailures)
	assert.False(t, u.ResetFailures)
}
