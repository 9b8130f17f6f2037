package consent

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/tinyland-inc/deskclaw/pkg/bus"
	"github.com/tinyland-inc/deskclaw/pkg/config"
	"github.com/tinyland-inc/deskclaw/pkg/handlers"
)

// OAuthProvider implements CredentialProvider over a standard OAuth2
// authorization-code flow. The consent prompt carries the authorization URL
// with the correlation id as the state parameter; the completion event
// carries the code back, which Exchange turns into an access token.
type OAuthProvider struct {
	oauth  *oauth2.Config
	sender Sender
}

func NewOAuthProvider(cfg config.OAuthConfig, sender Sender) (*OAuthProvider, error) {
	if cfg.ClientID == "" || cfg.AuthURL == "" || cfg.TokenURL == "" {
		return nil, errors.New("consent: oauth client_id, auth_url, and token_url are required")
	}
	if sender == nil {
		return nil, errors.New("consent: sender is required")
	}
	return &OAuthProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		sender: sender,
	}, nil
}

func (p *OAuthProvider) SendConsentPrompt(ctx context.Context, ref bus.ConversationRef, correlationID string, user bus.Identity) error {
	url := p.oauth.AuthCodeURL(correlationID, oauth2.AccessTypeOffline)
	name := user.Name
	if name == "" {
		name = user.ID
	}
	text := fmt.Sprintf(
		"Hi %s, I need your permission to act on your behalf.\nApprove here: %s\nReply \"decline\" if you'd rather not.",
		name, url,
	)
	return p.sender.Send(ctx, ref, text)
}

func (p *OAuthProvider) Exchange(ctx context.Context, code string) (*handlers.Credential, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("consent: exchanging authorization code: %w", err)
	}
	return &handlers.Credential{
		AccessToken: token.AccessToken,
		TokenType:   token.Type(),
		Expiry:      token.Expiry,
	}, nil
}
