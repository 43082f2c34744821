package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestline/advisor/pkg/contracts"
)

func summary(severity string, confidence float64) *Summary {
	return &Summary{
		CorrelationID: "c-1",
		Symbol:        "EURUSD",
		Timeframe:     "1h",
		Signal:        map[string]any{"rsi": 71.5},
		Confidence:    confidence,
		AdvisorySignals: []contracts.AdvisorySignal{{
			SignalType: contracts.SignalActionSuggestion,
			Confidence: contracts.Float64Ptr(confidence),
		}},
		TsMs:     1_700_000_000_000,
		Severity: severity,
	}
}

// noSleep removes backoff waits from retry tests.
func noSleep(n *Notifier) *Notifier {
	n.sleep = func(context.Context, time.Duration) error { return nil }
	return n
}

func TestDispatchPostsSummaryBody(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received <- body
	}))
	defer srv.Close()

	n := New([]Channel{{Name: "primary", URL: srv.URL, SeverityFilter: SeverityAll}}, Config{}, Hooks{})
	n.Dispatch(context.Background(), summary(SeverityInfo, 0.8))
	n.Wait()

	body := <-received
	assert.Equal(t, "c-1", body["correlation_id"])
	assert.Equal(t, "EURUSD", body["symbol"])
	assert.Equal(t, 0.8, body["confidence"])
	assert.NotContains(t, body, "Severity", "severity is derived, not posted")
}

func TestDispatchOutlivesCallerContext(t *testing.T) {
	delivered := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		delivered <- struct{}{}
	}))
	defer srv.Close()

	n := New([]Channel{{Name: "primary", URL: srv.URL, SeverityFilter: SeverityAll}}, Config{}, Hooks{})

	// An HTTP server cancels the request context as soon as the handler
	// returns; fanout must survive that.
	ctx, cancel := context.WithCancel(context.Background())
	n.Dispatch(ctx, summary(SeverityInfo, 0.8))
	cancel()
	n.Wait()

	select {
	case <-delivered:
	default:
		t.Fatal("delivery was killed by the caller's cancellation")
	}
}

func TestBackoffWaitAbortsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := sleepContext(ctx, time.Hour)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "cancelled delivery must not burn the backoff")
}

func TestDispatchRetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	delivered := make(chan string, 1)
	n := noSleep(New(
		[]Channel{{Name: "flaky", URL: srv.URL, SeverityFilter: SeverityAll}},
		Config{Retries: 3},
		Hooks{OnDelivered: func(ch string, _ time.Duration) { delivered <- ch }},
	))
	n.Dispatch(context.Background(), summary(SeverityInfo, 0.8))
	n.Wait()

	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, "flaky", <-delivered)
}

func TestDispatchExhaustedRetriesCountsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	failed := make(chan string, 1)
	n := noSleep(New(
		[]Channel{{Name: "down", URL: srv.URL, SeverityFilter: SeverityAll}},
		Config{Retries: 2},
		Hooks{OnError: func(ch string) { failed <- ch }},
	))
	n.Dispatch(context.Background(), summary(SeverityInfo, 0.8))
	n.Wait()

	assert.Equal(t, "down", <-failed)
}

func TestEligibilityFilters(t *testing.T) {
	n := New(nil, Config{MinWarnConfidence: 0.7}, Hooks{})

	cases := []struct {
		name    string
		channel Channel
		summary *Summary
		want    bool
	}{
		{"all channel takes everything", Channel{SeverityFilter: SeverityAll}, summary(SeverityInfo, 0.1), true},
		{"info channel takes info", Channel{SeverityFilter: SeverityInfo}, summary(SeverityInfo, 0.5), true},
		{"info channel skips warn", Channel{SeverityFilter: SeverityInfo}, summary(SeverityWarn, 0.5), false},
		{"warn channel takes warn", Channel{SeverityFilter: SeverityWarn}, summary(SeverityWarn, 0.5), true},
		{"warn channel skips low-confidence info", Channel{SeverityFilter: SeverityWarn}, summary(SeverityInfo, 0.5), false},
		{"warn channel promotes high-confidence info", Channel{SeverityFilter: SeverityWarn}, summary(SeverityInfo, 0.9), true},
		{"confidence floor blocks", Channel{SeverityFilter: SeverityAll, MinConfidence: 0.6}, summary(SeverityInfo, 0.5), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, n.eligible(tc.channel, tc.summary))
		})
	}
}

func TestNotifyLevelCoarseFilter(t *testing.T) {
	n := New(nil, Config{NotifyLevel: SeverityWarn}, Hooks{})

	assert.False(t, n.eligible(Channel{SeverityFilter: SeverityAll}, summary(SeverityInfo, 0.9)))
	assert.True(t, n.eligible(Channel{SeverityFilter: SeverityAll}, summary(SeverityWarn, 0.9)))
}

func TestLoadChannelsProfile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/channels.yaml"
	yaml := `
name: production
channels:
  - name: ops
    url: https://hooks.example.com/ops
    severity_filter: warn
    min_confidence: 0.5
  - name: feed
    url: https://hooks.example.com/feed
    severity_filter: all
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	channels, err := LoadChannels(path)
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, "ops", channels[0].Name)
	assert.Equal(t, SeverityWarn, channels[0].SeverityFilter)
	assert.Equal(t, 0.5, channels[0].MinConfidence)
}

func TestLoadChannelsRejectsBadProfiles(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"unknown severity": "channels:\n  - name: x\n    url: http://h\n    severity_filter: loud\n",
		"missing url":      "channels:\n  - name: x\n",
		"missing name":     "channels:\n  - url: http://h\n",
		"bad confidence":   "channels:\n  - name: x\n    url: http://h\n    min_confidence: 1.5\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := dir + "/" + name + ".yaml"
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
			_, err := LoadChannels(path)
			assert.Error(t, err)
		})
	}
}
