// Package identity talks to the external identity agent that issues and
// verifies signed credentials. The agent is a black box reached over HTTP;
// this package only shapes requests and maps failures into the domain error
// taxonomy.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"travlr/pkg/domain"
	dErrors "travlr/pkg/domain-errors"
)

// Client is the credential boundary consumed by the consent workflow.
type Client interface {
	IssueCredential(ctx context.Context, issuerAID, recipientAID domain.AID, schemaRef string, attributes map[string]any) (string, error)
	VerifyCredential(ctx context.Context, credentialRef string) (bool, error)
	GetCredential(ctx context.Context, credentialRef string) (map[string]any, error)
}

// verifyConcurrency bounds parallel agent calls during batch verification.
const verifyConcurrency = 8

// HTTPClient reaches the identity agent over its REST surface.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type issueRequest struct {
	IssuerAID    string         `json:"issuer_aid"`
	RecipientAID string         `json:"recipient_aid"`
	SchemaRef    string         `json:"schema_ref"`
	Attributes   map[string]any `json:"attributes"`
}

type issueResponse struct {
	CredentialRef string `json:"credential_ref"`
}

// IssueCredential asks the agent to mint a credential over the attributes.
// Attributes carry only the content hash and boolean summaries, never the
// profile itself.
func (c *HTTPClient) IssueCredential(ctx context.Context, issuerAID, recipientAID domain.AID, schemaRef string, attributes map[string]any) (string, error) {
	var out issueResponse
	err := c.post(ctx, "/credentials/issue", issueRequest{
		IssuerAID:    issuerAID.String(),
		RecipientAID: recipientAID.String(),
		SchemaRef:    schemaRef,
		Attributes:   attributes,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.CredentialRef == "" {
		return "", dErrors.New(dErrors.CodeInternal, "identity agent returned no credential reference")
	}
	return out.CredentialRef, nil
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

// VerifyCredential asks the agent whether the credential is valid and
// unrevoked.
func (c *HTTPClient) VerifyCredential(ctx context.Context, credentialRef string) (bool, error) {
	var out verifyResponse
	err := c.post(ctx, "/credentials/verify", map[string]string{"credential_ref": credentialRef}, &out)
	if err != nil {
		return false, err
	}
	return out.Valid, nil
}

// GetCredential resolves a credential reference to its attribute set.
func (c *HTTPClient) GetCredential(ctx context.Context, credentialRef string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/credentials/"+credentialRef, nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build identity agent request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "identity agent unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, dErrors.New(dErrors.CodeNotFound, "unknown credential reference")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, dErrors.Newf(dErrors.CodeInternal, "identity agent returned status %d", resp.StatusCode)
	}

	var attributes map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&attributes); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "decode identity agent response")
	}
	return attributes, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode identity agent request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build identity agent request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "identity agent unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return dErrors.Newf(dErrors.CodeInternal, "identity agent returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "decode identity agent response")
	}
	return nil
}

// VerifyBatch checks many credential references in parallel. Each lookup is
// independent and read-only; one failing verification does not stop the rest.
func VerifyBatch(ctx context.Context, client Client, refs []string) map[string]bool {
	results := make(map[string]bool, len(refs))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(verifyConcurrency)
	for _, ref := range refs {
		g.Go(func() error {
			valid, err := client.VerifyCredential(ctx, ref)
			if err != nil {
				valid = false
			}
			mu.Lock()
			results[ref] = valid
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors; Wait only synchronizes
	return results
}
