package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pairsnap/reserve-indexer/types"
)

func TestCommitPayloadSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/0xpair/pair_total_reserves/payload", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, time.Second)
	err := c.CommitPayload(context.Background(), "0xpair", "pair_total_reserves", map[string]int{"a": 1})
	require.NoError(t, err)
}

func TestCommitPayloadAuditRejectNoRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message":"duplicate submission"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, time.Second)
	err := c.CommitPayload(context.Background(), "0xpair", "pair_total_reserves", map[string]int{"a": 1})
	require.Error(t, err)

	var pe *types.PipelineError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, types.KindAuditReject, pe.Kind)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCommitPayloadRetriesTransportErrorsThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, time.Second)
	c.baseDelay = time.Millisecond
	c.maxDelay = 5 * time.Millisecond

	err := c.CommitPayload(context.Background(), "0xpair", "pair_total_reserves", map[string]int{"a": 1})
	require.NoError(t, err)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSetDiffRulePostsToDiffRulesPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/0xpair/pair_total_reserves/diffRules", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, time.Second)
	err := c.SetDiffRule(context.Background(), "0xpair", "pair_total_reserves", map[string]string{"rule": "x"})
	require.NoError(t, err)
}
