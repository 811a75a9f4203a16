package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travlr/pkg/domain"
	dErrors "travlr/pkg/domain-errors"
)

func testAID(t *testing.T, prefix byte) domain.AID {
	t.Helper()
	aid, err := domain.ParseAID(string(prefix) + strings.Repeat("A", 44))
	require.NoError(t, err)
	return aid
}

func TestIssueCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/credentials/issue", r.URL.Path)

		var req issueRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "travel-preferences-v1", req.SchemaRef)
		assert.NotContains(t, req.Attributes, "flight_preferences")

		json.NewEncoder(w).Encode(issueResponse{CredentialRef: "EAbc123"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	ref, err := client.IssueCredential(context.Background(),
		testAID(t, 'E'), testAID(t, 'D'), "travel-preferences-v1",
		map[string]any{"payload_hash": "h", "has_emergency_contact": true})
	require.NoError(t, err)
	assert.Equal(t, "EAbc123", ref)
}

func TestGetCredentialNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL).GetCredential(context.Background(), "EMissing")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeNotFound))
}

func TestVerifyCredentialUnreachable(t *testing.T) {
	client := NewHTTPClient("http://127.0.0.1:1")
	_, err := client.VerifyCredential(context.Background(), "EAny")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeUnavailable))
}

type fakeClient struct {
	valid map[string]bool
}

func (f *fakeClient) IssueCredential(context.Context, domain.AID, domain.AID, string, map[string]any) (string, error) {
	return "", nil
}

func (f *fakeClient) VerifyCredential(_ context.Context, ref string) (bool, error) {
	if ref == "broken" {
		return false, dErrors.New(dErrors.CodeUnavailable, "agent down")
	}
	return f.valid[ref], nil
}

func (f *fakeClient) GetCredential(context.Context, string) (map[string]any, error) {
	return nil, nil
}

func TestVerifyBatch(t *testing.T) {
	client := &fakeClient{valid: map[string]bool{"a": true, "b": false, "c": true}}

	results := VerifyBatch(context.Background(), client, []string{"a", "b", "c", "broken"})

	assert.Equal(t, map[string]bool{
		"a":      true,
		"b":      false,
		"c":      true,
		"broken": false,
	}, results)
}
