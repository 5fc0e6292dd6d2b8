// Package userinfo turns idp token responses into login credentials by
// fetching and mapping the provider's userinfo document. It never touches the
// directory; callers feed the resulting credentials into their login layer.
package userinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/platinummonkey/dirsync/pkg/extid"
	"github.com/platinummonkey/dirsync/pkg/observability"
)

// DefaultEndpoint is the userinfo endpoint used when none is configured.
const DefaultEndpoint = "https://api.idmelabs.com/api/public/v3/userinfo"

const defaultCacheSize = 128

// profileClaims are the claims copied into profile/* attributes.
var profileClaims = []string{
	"email",
	"given_name",
	"family_name",
	"name",
	"phone",
	"zip",
	"birth_date",
	"uuid",
	"social",
	"credential_option_preverified",
}

// legacyClaims maps older claim names onto their standard counterparts,
// consulted only when the standard claim is absent.
var legacyClaims = map[string]string{
	"fname": "given_name",
	"lname": "family_name",
}

// Credentials is the processed login identity for one authenticated subject.
type Credentials struct {
	UserID     string
	IDP        string
	Attributes map[string]string
}

// Config tunes a Processor.
type Config struct {
	// Connection names the idp connection this processor handles. Required.
	Connection string

	// Endpoint is the userinfo URL. Defaults to DefaultEndpoint.
	Endpoint string

	// SuffixIDPName appends ";idp" to the resulting user id, matching the
	// external-id convention used by group reconciliation.
	SuffixIDPName bool

	// StoreAccessToken copies the access token into the credentials under
	// oauth_access_token.
	StoreAccessToken bool

	// CacheSize bounds the userinfo response cache. Defaults to 128.
	CacheSize int

	HTTPClient *http.Client
	Logger     *observability.Logger
}

// Processor fetches and maps userinfo documents for one idp connection.
type Processor struct {
	connection       string
	endpoint         string
	suffixIDPName    bool
	storeAccessToken bool
	client           *http.Client
	logger           *observability.Logger
	cache            *lru.Cache[string, map[string]string]
}

// NewProcessor creates a processor for one idp connection.
func NewProcessor(cfg Config) (*Processor, error) {
	if cfg.Connection == "" {
		return nil, fmt.Errorf("connection name is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	cache, err := lru.New[string, map[string]string](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo cache: %w", err)
	}

	return &Processor{
		connection:       cfg.Connection,
		endpoint:         cfg.Endpoint,
		suffixIDPName:    cfg.SuffixIDPName,
		storeAccessToken: cfg.StoreAccessToken,
		client:           cfg.HTTPClient,
		logger:           cfg.Logger,
		cache:            cache,
	}, nil
}

// Connection returns the idp connection name this processor handles.
func (p *Processor) Connection() string {
	return p.connection
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
}

// Process builds credentials for one authenticated subject from the raw token
// response. An empty subject falls back to the id_token sub claim; the
// id_token is not signature-checked here, that already happened upstream.
func (p *Processor) Process(ctx context.Context, rawTokenResponse []byte, subject, idp string) (*Credentials, error) {
	var tokens tokenResponse
	if err := json.Unmarshal(rawTokenResponse, &tokens); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("token response carries no access token")
	}

	if subject == "" {
		sub, err := unverifiedSubject(tokens.IDToken)
		if err != nil {
			return nil, fmt.Errorf("no subject and no usable id_token: %w", err)
		}
		subject = sub
	}

	claims, err := p.fetchUserInfo(ctx, tokens.AccessToken)
	if err != nil {
		return nil, err
	}

	userID := subject
	if p.suffixIDPName {
		userID = extid.Encode(subject, idp)
	}

	creds := &Credentials{
		UserID:     userID,
		IDP:        idp,
		Attributes: map[string]string{".token": ""},
	}
	for _, claim := range profileClaims {
		if v := claims[claim]; v != "" {
			creds.Attributes["profile/"+claim] = v
		}
	}
	for legacy, standard := range legacyClaims {
		if _, ok := creds.Attributes["profile/"+standard]; !ok {
			if v := claims[legacy]; v != "" {
				creds.Attributes["profile/"+standard] = v
			}
		}
	}
	if p.storeAccessToken {
		creds.Attributes["oauth_access_token"] = tokens.AccessToken
	}

	p.logger.WithFields(map[string]interface{}{
		"connection": p.connection,
		"userId":     userID,
	}).Debug("processed userinfo")
	return creds, nil
}

// fetchUserInfo retrieves and decodes the userinfo document, caching it per
// access token.
func (p *Processor) fetchUserInfo(ctx context.Context, accessToken string) (map[string]string, error) {
	if cached, ok := p.cache.Get(accessToken); ok {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read userinfo response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo request failed with status %d: %s", resp.StatusCode, body)
	}

	claims, err := decodeUserInfo(body)
	if err != nil {
		return nil, err
	}
	p.cache.Add(accessToken, claims)
	return claims, nil
}

// decodeUserInfo handles both response shapes the provider emits: a signed
// JWT whose payload is the document, or a plain JSON object.
func decodeUserInfo(body []byte) (map[string]string, error) {
	text := strings.Trim(strings.TrimSpace(string(body)), `"`)

	if strings.Count(text, ".") == 2 {
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(text, claims); err == nil {
			return stringifyClaims(claims), nil
		}
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse userinfo response: %w", err)
	}
	return stringifyClaims(raw), nil
}

func unverifiedSubject(idToken string) (string, error) {
	if idToken == "" {
		return "", fmt.Errorf("token response carries no id_token")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return "", fmt.Errorf("failed to decode id_token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("id_token carries no subject")
	}
	return sub, nil
}

func stringifyClaims(claims map[string]interface{}) map[string]string {
	out := make(map[string]string, len(claims))
	for k, v := range claims {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
		default:
			encoded, err := json.Marshal(val)
			if err == nil {
				out[k] = string(encoded)
			}
		}
	}
	return out
}
