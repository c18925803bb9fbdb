package azure

import (
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

const managementScope = "https://management.azure.com/.default"

// Credentials selects how tokens are obtained. With a client secret the
// service principal flow is used, otherwise the default credential chain.
type Credentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

// NewCredential builds the azidentity credential for c. The client's bearer
// token policy caches and refreshes the tokens it issues.
func NewCredential(c Credentials) (azcore.TokenCredential, error) {
	var (
		cred azcore.TokenCredential
		err  error
	)
	if c.ClientSecret != "" {
		cred, err = azidentity.NewClientSecretCredential(c.TenantID, c.ClientID, c.ClientSecret, nil)
	} else {
		cred, err = azidentity.NewDefaultAzureCredential(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("create azure credential: %w", err)
	}
	return cred, nil
}

// staticTokenPolicy sends a pre-acquired bearer token.
type staticTokenPolicy string

func (p staticTokenPolicy) Do(req *policy.Request) (*http.Response, error) {
	req.Raw().Header.Set("Authorization", "Bearer "+string(p))
	return req.Next()
}
