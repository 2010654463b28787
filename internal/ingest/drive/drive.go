// Package drive downloads file content from Google Drive for ingestion.
// Listing and selection happen in the frontend; this side only turns a
// stored refresh token into an authorized client and fetches bytes.
package drive

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// googleEndpoint is the standard Google OAuth2 endpoint pair.
var googleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

// downloadURL is a var so tests can point it at a stub server.
var downloadURL = "https://www.googleapis.com/drive/v3/files/%s?alt=media"

// Connector exchanges stored refresh tokens for authorized Drive access.
type Connector struct {
	cfg *oauth2.Config
}

// New builds a connector from the OAuth app credentials in config.
func New(clientID, clientSecret, redirectURL string) (*Connector, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("drive: client_id and client_secret are required")
	}
	return &Connector{cfg: &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     googleEndpoint,
		Scopes:       []string{"https://www.googleapis.com/auth/drive.readonly"},
	}}, nil
}

// AuthURL returns the consent URL the frontend redirects users to. The
// offline access type is what yields a refresh token on first consent.
func (c *Connector) AuthURL(state string) string {
	return c.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token pair.
func (c *Connector) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := c.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("drive: exchange code: %w", err)
	}
	return tok, nil
}

// Client returns an HTTP client that self-refreshes from the stored
// refresh token.
func (c *Connector) Client(ctx context.Context, refreshToken string) *http.Client {
	tok := &oauth2.Token{RefreshToken: refreshToken}
	return oauth2.NewClient(ctx, c.cfg.TokenSource(ctx, tok))
}

// Download fetches the raw content of a Drive file.
func (c *Connector) Download(ctx context.Context, refreshToken, fileID string) ([]byte, error) {
	return download(ctx, c.Client(ctx, refreshToken), fileID)
}

func download(ctx context.Context, client *http.Client, fileID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf(downloadURL, fileID), nil)
	if err != nil {
		return nil, fmt.Errorf("drive: build request for %s: %w", fileID, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("drive: download %s: %w", fileID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("drive: download %s: status %d", fileID, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("drive: read %s: %w", fileID, err)
	}
	return body, nil
}
