package forward

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/qbitspark/sms-relay/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetails struct {
	blob json.RawMessage
	err  error
}

func (f *fakeDetails) Collect() (json.RawMessage, error) {
	return f.blob, f.err
}

func TestSend_PayloadShape(t *testing.T) {
	var got Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "application/json; charset=utf-8", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, &fakeDetails{blob: json.RawMessage(`{"hostname":"relay-1"}`)})
	client.now = func() time.Time {
		return time.Date(2026, 8, 29, 10, 30, 45, 123456789, time.UTC)
	}

	msg := types.Message{
		ID:         7,
		Sender:     "+255700000001",
		Receiver:   "+255700000002",
		Body:       "hello there",
		CapturedAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, client.Send(context.Background(), msg, "branch-7"))

	assert.Equal(t, "branch-7", got.BranchID)
	assert.Equal(t, "+255700000001", got.Sender)
	assert.Equal(t, "+255700000002", got.Receiver)
	assert.Equal(t, "hello there", got.Message)
	assert.JSONEq(t, `{"hostname":"relay-1"}`, string(got.DeviceDetails))

	// Send time, UTC, second precision. Not the capture time.
	assert.Equal(t, "2026-08-29T10:30:45Z", got.Timestamp)
	assert.Regexp(t, regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`), got.Timestamp)
}

func TestSend_NonSuccessStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, nil)
	client.retryCfg.InitialDelay = time.Millisecond

	err := client.Send(context.Background(), types.Message{Sender: "a", Body: "x"}, "branch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestSend_RetriesThenSucceeds(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, nil)
	client.retryCfg.InitialDelay = time.Millisecond

	require.NoError(t, client.Send(context.Background(), types.Message{Sender: "a", Body: "x"}, "branch"))
	assert.Equal(t, 2, attempts)
}

func TestSend_DetailsFailureDoesNotBlockDelivery(t *testing.T) {
	var got Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, &fakeDetails{err: assert.AnError})

	require.NoError(t, client.Send(context.Background(), types.Message{Sender: "a", Body: "x"}, "branch"))
	assert.Nil(t, got.DeviceDetails)
}

func TestSend_UnreachableEndpoint(t *testing.T) {
	client := NewClient("http://127.0.0.1:1/collect", 200*time.Millisecond, nil)
	client.retryCfg.InitialDelay = time.Millisecond

	err := client.Send(context.Background(), types.Message{Sender: "a", Body: "x"}, "branch")
	assert.Error(t, err)
}
