package hitl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobagent/orchestrator/internal/domain"
)

func TestHTTPGateway_Send_PostsToMessagesEndpoint(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "test-key")
	err := g.Send(context.Background(), "+15551234567", "hello")
	require.NoError(t, err)

	assert.Equal(t, "/messages", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "+15551234567", gotBody["to"])
	assert.Equal(t, "hello", gotBody["body"])
}

func TestHTTPGateway_Send_NonOKStatusIsTransientInfra(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "test-key")
	err := g.Send(context.Background(), "+15551234567", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransientInfra)
}
