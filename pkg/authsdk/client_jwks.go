package authsdk

import (
	"context"
	"net/http"

	"github.com/aussiebroadwan/tabauth/pkg/jwtx"
)

// GetJWKS retrieves the JSON Web Key Set for token verification.
func (c *SDKClient) GetJWKS(ctx context.Context) (*JWKSResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/.well-known/jwks.json", nil)
	if err != nil {
		return nil, err
	}

	var jwks JWKSResponse
	if err := decodeJSON(resp, &jwks, http.StatusOK); err != nil {
		return nil, err
	}

	return &jwks, nil
}

// KeySet loads the published keys into a jwtx.KeySet so a resource server
// can verify access tokens locally.
func (c *SDKClient) KeySet(ctx context.Context) (*jwtx.KeySet, error) {
	jwks, err := c.GetJWKS(ctx)
	if err != nil {
		return nil, err
	}

	ks := jwtx.NewKeySet()
	for _, k := range jwks.Keys {
		if err := ks.AddJWK(k); err != nil {
			return nil, err
		}
	}
	return ks, nil
}
