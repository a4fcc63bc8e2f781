// Package platform describes the two publishing targets: their limits,
// content templates, OAuth endpoints and publish API shapes.
package platform

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/oauth2"

	"github.com/young1lin/research2post/internal/config"
	"github.com/young1lin/research2post/internal/domain"
	"github.com/young1lin/research2post/internal/models"
)

const (
	LinkedIn = "linkedin"
	X        = "x"
)

// HashtagPolicy bounds the trailing hashtag block. Policies that do not
// always append only attach the block when the whole post fits the budget.
type HashtagPolicy struct {
	Name         string
	Max          int
	AlwaysAppend bool
}

type Platform struct {
	Name        string
	DisplayName string
	Enabled     bool

	// Content
	MaxLength     int
	MinLength     int
	Breaks        []string
	MinFraction   float64
	Persona       string
	Template      string
	Policies      map[string]HashtagPolicy
	DefaultPolicy string

	// OAuth
	ClientID      string
	ClientSecret  string
	RedirectURI   string
	Scopes        []string
	AuthURL       string
	TokenURL      string
	ProfileURL    string
	PKCE          bool
	AuthStyle     oauth2.AuthStyle
	IdentityField string
	FrontendURL   string

	// Publishing
	PublishURL     string
	PublishHeaders map[string]string
	ExpectedStatus []int
	BuildBody      func(cred models.Credential, content string) any
	PostIDHeader   string
	PostIDField    string

	// Persistence
	Table          string
	IdentityColumn string
}

func newLinkedIn() *Platform {
	return &Platform{
		Name:        LinkedIn,
		DisplayName: "LinkedIn",
		Enabled:     true,
		MaxLength:   3000,
		MinLength:   100,
		Breaks:      []string{"\n\n", ". ", "! ", "? ", "; ", ", "},
		MinFraction: 0.8,
		Persona:     "You are a professional LinkedIn content creator.",
		Template: `LinkedIn Post Creation
Create professional content from this input:
- Remove ALL markdown/formatting
- Use business-appropriate tone
- Add 1-2 relevant emojis
- Include 3-5 industry-specific hashtags
- Maintain paragraph structure
- Strict {char_limit} character limit
- Preserve key insights

Input:
{content}`,
		Policies: map[string]HashtagPolicy{
			"none":         {Name: "none"},
			"professional": {Name: "professional", Max: 5},
			"industry":     {Name: "industry", Max: 7, AlwaysAppend: true},
		},
		DefaultPolicy: "professional",

		Scopes:        []string{"openid", "profile", "email", "w_member_social"},
		AuthURL:       "https://www.linkedin.com/oauth/v2/authorization",
		TokenURL:      "https://www.linkedin.com/oauth/v2/accessToken",
		ProfileURL:    "https://api.linkedin.com/v2/userinfo",
		AuthStyle:     oauth2.AuthStyleInParams,
		IdentityField: "sub",

		PublishURL:     "https://api.linkedin.com/v2/ugcPosts",
		PublishHeaders: map[string]string{"X-Restli-Protocol-Version": "2.0.0"},
		ExpectedStatus: []int{http.StatusCreated},
		BuildBody:      linkedInShare,
		PostIDHeader:   "X-RestLi-Id",
		PostIDField:    "id",

		Table:          "linkedin_tokens",
		IdentityColumn: "linkedin_urn",
	}
}

func newX() *Platform {
	return &Platform{
		Name:        X,
		DisplayName: "X",
		Enabled:     true,
		MaxLength:   280,
		MinLength:   15,
		Breaks:      []string{"\n\n", ". ", "! ", "? ", "\n", "; ", ", "},
		MinFraction: 0.75,
		Persona:     "You are a professional social media content creator.",
		Template: `Social Media Post Creation
Create engaging content from this input:
- Remove ALL markdown/formatting
- Use Twitter-friendly tone
- Add 1-3 relevant emojis
- Include 2-3 hashtags
- Strict {char_limit} character limit
- Preserve key information

Input:
{content}`,
		Policies: map[string]HashtagPolicy{
			"none":       {Name: "none"},
			"smart":      {Name: "smart", Max: 3},
			"aggressive": {Name: "aggressive", Max: 5, AlwaysAppend: true},
		},
		DefaultPolicy: "smart",

		Scopes:        []string{"tweet.read", "users.read", "tweet.write", "offline.access"},
		AuthURL:       "https://x.com/i/oauth2/authorize",
		TokenURL:      "https://api.x.com/2/oauth2/token",
		ProfileURL:    "https://api.x.com/2/users/me",
		PKCE:          true,
		AuthStyle:     oauth2.AuthStyleInHeader,
		IdentityField: "data.id",

		PublishURL:     "https://api.x.com/2/tweets",
		ExpectedStatus: []int{http.StatusOK, http.StatusCreated},
		BuildBody:      tweet,
		PostIDField:    "data.id",

		Table:          "twitter_tokens",
		IdentityColumn: "x_user_id",
	}
}

func linkedInShare(cred models.Credential, content string) any {
	return map[string]any{
		"author":         "urn:li:person:" + cred.PlatformIdentity,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": map[string]any{
				"shareCommentary":    map[string]any{"text": content},
				"shareMediaCategory": "NONE",
			},
		},
		"visibility": map[string]any{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}
}

func tweet(_ models.Credential, content string) any {
	return map[string]any{"text": content}
}

// Defaults returns the built-in descriptor for name without credentials.
func Defaults(name string) (*Platform, error) {
	switch name {
	case LinkedIn:
		return newLinkedIn(), nil
	case X:
		return newX(), nil
	default:
		return nil, domain.Validation("unknown platform: " + name)
	}
}

// FromConfig overlays the configured credentials, limits and scopes on the
// built-in descriptor.
func FromConfig(name string, cfg config.PlatformConfig) (*Platform, error) {
	p, err := Defaults(name)
	if err != nil {
		return nil, err
	}
	p.Enabled = cfg.Enabled
	p.ClientID = cfg.ClientID
	p.ClientSecret = cfg.ClientSecret
	p.RedirectURI = cfg.RedirectURI
	p.FrontendURL = cfg.FrontendURL
	if len(cfg.Scopes) > 0 {
		p.Scopes = cfg.Scopes
	}
	if cfg.MaxLength > 0 && cfg.MaxLength < p.MaxLength {
		p.MaxLength = cfg.MaxLength
	}
	if cfg.HashtagPolicy != "" {
		if _, err := p.Policy(cfg.HashtagPolicy); err != nil {
			return nil, err
		}
		p.DefaultPolicy = strings.ToLower(cfg.HashtagPolicy)
	}
	return p, nil
}

// Budget is the effective length limit for a request: the requested value
// clamped to the platform maximum, or the maximum when unset.
func (p *Platform) Budget(requested int) int {
	if requested <= 0 || requested > p.MaxLength {
		return p.MaxLength
	}
	return requested
}

// Policy resolves a hashtag policy by name; empty selects the default.
func (p *Platform) Policy(name string) (HashtagPolicy, error) {
	if name == "" {
		name = p.DefaultPolicy
	}
	policy, ok := p.Policies[strings.ToLower(name)]
	if !ok {
		return HashtagPolicy{}, domain.Validation(fmt.Sprintf(
			"unknown hashtag policy %q for %s (allowed: %s)", name, p.DisplayName, strings.Join(p.PolicyNames(), ", ")))
	}
	return policy, nil
}

func (p *Platform) PolicyNames() []string {
	names := make([]string, 0, len(p.Policies))
	for name := range p.Policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Prompt renders the rewrite instruction for content under budget.
func (p *Platform) Prompt(content string, budget int) string {
	return strings.NewReplacer(
		"{char_limit}", strconv.Itoa(budget),
		"{content}", content,
	).Replace(p.Template)
}

func (p *Platform) Expects(status int) bool {
	for _, s := range p.ExpectedStatus {
		if s == status {
			return true
		}
	}
	return false
}

func (p *Platform) OAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  p.RedirectURI,
		Scopes:       p.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.AuthURL,
			TokenURL:  p.TokenURL,
			AuthStyle: p.AuthStyle,
		},
	}
}

// Identity reads the platform user id from a decoded profile response.
func (p *Platform) Identity(profile map[string]any) string {
	return Lookup(profile, p.IdentityField)
}

// Lookup follows a dotted path through nested JSON objects and returns the
// value as a string, or "" when any step is missing.
func Lookup(doc map[string]any, path string) string {
	var cur any = doc
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[key]
	}
	switch v := cur.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// Registry holds the enabled platforms by name.
type Registry map[string]*Platform

func NewRegistry(cfg config.PlatformsConfig) (Registry, error) {
	r := make(Registry)
	for name, pc := range map[string]config.PlatformConfig{LinkedIn: cfg.LinkedIn, X: cfg.X} {
		if !pc.Enabled {
			continue
		}
		p, err := FromConfig(name, pc)
		if err != nil {
			return nil, err
		}
		r[name] = p
	}
	return r, nil
}

func (r Registry) Get(name string) (*Platform, bool) {
	p, ok := r[strings.ToLower(name)]
	return p, ok
}

func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
