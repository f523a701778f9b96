package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kinship/internal/verification/metrics"
	"kinship/internal/verification/models"
	"kinship/internal/verification/provider/providertest"
)

const testAPIKey = "sk_test_123"

func newTestClient(t *testing.T) (*Client, *providertest.Server) {
	t.Helper()
	fake := providertest.New(testAPIKey)
	t.Cleanup(fake.Close)
	return NewClient(fake.URL, testAPIKey, WithMetrics(metrics.New(prometheus.NewRegistry()))), fake
}

func TestClient_CreateThenGetRoundTrip(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	created, err := client.CreateSession(ctx, "u1", "https://app.example.com/verify?verification=return")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.NotEmpty(t, created.RedirectURL)
	assert.Equal(t, models.SessionStatusRequiresInput, created.Status)

	fetched, err := client.GetSession(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, fetched.ID)
	assert.Equal(t, "u1", fetched.OwnerUserID)
}

func TestClient_ProviderRejectionSurfacesMessage(t *testing.T) {
	client, fake := newTestClient(t)
	fake.FailNext(http.StatusBadRequest, "return_url must be an https URL")

	_, err := client.CreateSession(context.Background(), "u1", "http://insecure")
	require.Error(t, err)

	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindRejected, pe.Kind)
	assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
	assert.Equal(t, "return_url must be an https URL", pe.Message)
	assert.False(t, IsRetryable(err))
}

func TestClient_WrongAPIKeyIsRejected(t *testing.T) {
	fake := providertest.New(testAPIKey)
	defer fake.Close()
	client := NewClient(fake.URL, "sk_wrong")

	_, err := client.CreateSession(context.Background(), "u1", "")
	require.Error(t, err)
	assert.Equal(t, KindRejected, KindOf(err))
	assert.Contains(t, err.Error(), "Invalid API Key provided")
}

func TestClient_UnknownSessionIsNotFound(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.GetSession(context.Background(), "vs_missing")
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestClient_UnreachableProviderIsUnavailable(t *testing.T) {
	fake := providertest.New(testAPIKey)
	url := fake.URL
	fake.Close()

	client := NewClient(url, testAPIKey)
	_, err := client.CreateSession(context.Background(), "u1", "")
	require.Error(t, err)
	assert.Equal(t, KindUnavailable, KindOf(err))
	assert.True(t, IsRetryable(err))
}

func TestClient_TimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)

	client := NewClient(slow.URL, testAPIKey, WithTimeout(50*time.Millisecond))
	_, err := client.GetSession(context.Background(), "vs_1")
	require.Error(t, err)
	assert.Equal(t, KindUnavailable, KindOf(err))
}

func TestClient_MissingFieldsAreUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"identity.verification_session"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testAPIKey)
	_, err := client.CreateSession(context.Background(), "u1", "")
	require.Error(t, err)
	assert.Equal(t, KindUnavailable, KindOf(err))
}

func TestParseSessionResponse(t *testing.T) {
	t.Run("parses session with metadata owner", func(t *testing.T) {
		body := []byte(`{
			"id": "vs_123",
			"object": "identity.verification_session",
			"status": "processing",
			"url": "https://verify.example.com/start/vs_123",
			"metadata": {"user_id": "u7"}
		}`)
		parsed, err := parseSessionResponse(opGet, 200, body)
		require.NoError(t, err)

		s := toSession(parsed)
		assert.Equal(t, "vs_123", s.ID)
		assert.Equal(t, models.SessionStatusProcessing, s.Status)
		assert.Equal(t, "u7", s.OwnerUserID)
	})

	t.Run("carries last error code", func(t *testing.T) {
		body := []byte(`{"id":"vs_1","status":"requires_input","last_error":{"code":"document_expired","reason":"expired"}}`)
		parsed, err := parseSessionResponse(opGet, 200, body)
		require.NoError(t, err)
		assert.Equal(t, "document_expired", toSession(parsed).LastError)
	})

	t.Run("non-2xx without provider body uses status text", func(t *testing.T) {
		_, err := parseSessionResponse(opGet, 503, []byte("<html>"))
		require.Error(t, err)
		var pe *Error
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, KindRejected, pe.Kind)
		assert.Equal(t, "Service Unavailable", pe.Message)
	})

	t.Run("malformed JSON is unavailable", func(t *testing.T) {
		_, err := parseSessionResponse(opGet, 200, []byte(`{invalid json`))
		assert.Equal(t, KindUnavailable, KindOf(err))
	})

	t.Run("unknown status is unavailable", func(t *testing.T) {
		_, err := parseSessionResponse(opGet, 200, []byte(`{"id":"vs_1","status":"exploded"}`))
		assert.Equal(t, KindUnavailable, KindOf(err))
	})
}
