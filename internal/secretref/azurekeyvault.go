package secretref

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/R3E-Network/threatwatch/infrastructure/httputil"
)

const keyVaultAPIVersion = "7.4"
const keyVaultScope = "https://vault.azure.net/.default"

// AzureKeyVaultProvider resolves azkv://<vault-name>/<secret-name> refs
// against an Azure Key Vault instance using azkv://<vault-name>/<secret-name>[/<version>].
// Authentication uses azidentity.DefaultAzureCredential, which in turn tries
// environment, managed identity, and workload identity credentials in that
// order, matching standard Azure SDK deployment conventions.
type AzureKeyVaultProvider struct {
	cred   azcore.TokenCredential
	pl     runtime.Pipeline
	client *http.Client
}

// NewAzureKeyVaultProvider builds a provider backed by DefaultAzureCredential.
func NewAzureKeyVaultProvider() (*AzureKeyVaultProvider, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("azure key vault provider: %w", err)
	}
	client := httputil.NewClient(10 * time.Second)
	pl := runtime.NewPipeline("threatwatch-secretref", "v1",
		runtime.PipelineOptions{},
		&policy.ClientOptions{Transport: client})
	return &AzureKeyVaultProvider{cred: cred, pl: pl, client: client}, nil
}

// Scheme implements Provider.
func (p *AzureKeyVaultProvider) Scheme() string { return "azkv" }

type keyVaultSecretResponse struct {
	Value string `json:"value"`
}

// Resolve implements Provider. ref is azkv://<vault-name>/<secret-name> with
// an optional trailing /<version> path segment.
func (p *AzureKeyVaultProvider) Resolve(ctx context.Context, ref *url.URL) (string, error) {
	vault := ref.Host
	segments := strings.Split(strings.Trim(ref.Path, "/"), "/")
	if vault == "" || len(segments) == 0 || segments[0] == "" {
		return "", fmt.Errorf("azure key vault provider: ref must be azkv://<vault>/<secret>, got %q", ref.String())
	}
	secretName := segments[0]
	version := ""
	if len(segments) > 1 {
		version = segments[1]
	}

	vaultURL := fmt.Sprintf("https://%s.vault.azure.net", vault)
	reqURL := fmt.Sprintf("%s/secrets/%s/%s?api-version=%s", vaultURL, secretName, version, keyVaultAPIVersion)

	req, err := runtime.NewRequest(ctx, http.MethodGet, reqURL)
	if err != nil {
		return "", fmt.Errorf("azure key vault provider: build request: %w", err)
	}

	token, err := p.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{keyVaultScope}})
	if err != nil {
		return "", fmt.Errorf("azure key vault provider: get token: %w", err)
	}
	req.Raw().Header.Set("Authorization", "Bearer "+token.Token)

	resp, err := p.pl.Do(req)
	if err != nil {
		return "", fmt.Errorf("azure key vault provider: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("azure key vault provider: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("azure key vault provider: vault returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed keyVaultSecretResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("azure key vault provider: decode response: %w", err)
	}
	return parsed.Value, nil
}
