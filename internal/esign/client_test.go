package esign

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateEnvelope(t *testing.T) {
	var gotAuth string
	var gotReq EnvelopeRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/envelopes", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Envelope{ID: "env-123", Status: "sent"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret-token")
	env, err := client.CreateEnvelope(context.Background(), "Consent form",
		[]byte("%PDF-1.7 fake"), Recipient{Email: "signer@example.com", Name: "Signer"})
	require.NoError(t, err)

	assert.Equal(t, "env-123", env.ID)
	assert.Equal(t, "sent", env.Status)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "Consent form", gotReq.Name)
	assert.Equal(t, "signer@example.com", gotReq.Recipient.Email)

	decoded, err := base64.StdEncoding.DecodeString(gotReq.DocumentBase64)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 fake", string(decoded))
}

func TestGetEnvelopeNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such envelope", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret-token")
	_, err := client.GetEnvelope(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "GetEnvelope", apiErr.Op)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "no such envelope")
}

func TestCreateEnvelopeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret-token")
	_, err := client.CreateEnvelope(context.Background(), "f", nil, Recipient{Email: "a@b.c"})
	require.Error(t, err)
	assert.False(t, IsNotFound(err))

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestBaseURLPathPrefixKept(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Envelope{ID: "env-1", Status: "sent"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/tenant-a", "k")
	_, err := client.GetEnvelope(context.Background(), "env-1")
	require.NoError(t, err)
	assert.Equal(t, "/tenant-a/api/v1/envelopes/env-1", gotPath)
}

func TestNewClientOptions(t *testing.T) {
	custom := &http.Client{}
	c := NewClient("http://example.com", "k", WithHTTPClient(custom))
	assert.Same(t, custom, c.httpClient)
}
