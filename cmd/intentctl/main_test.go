package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, serverURL string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", serverURL}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestHealthCommand(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","sessions":2,"events":10}`))
	}))
	defer ts.Close()

	out, err := runCommand(t, ts.URL, "health")
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "healthy", decoded["status"])
	assert.Equal(t, float64(2), decoded["sessions"])
}

func TestInsightsCommand_SessionPath(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/insights/sess-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sessionId":"sess-1"}`))
	}))
	defer ts.Close()

	out, err := runCommand(t, ts.URL, "insights", "sess-1")
	require.NoError(t, err)
	assert.Contains(t, out, `"sessionId": "sess-1"`)
}

func TestInsightsCommand_SummaryPath(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/insights", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sessions":[],"count":0}`))
	}))
	defer ts.Close()

	out, err := runCommand(t, ts.URL, "insights")
	require.NoError(t, err)
	assert.Contains(t, out, `"count": 0`)
}

func TestErrorResponseSurfacesMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"session_not_found","message":"no events recorded for session x"}`))
	}))
	defer ts.Close()

	_, err := runCommand(t, ts.URL, "insights", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session_not_found")
}
