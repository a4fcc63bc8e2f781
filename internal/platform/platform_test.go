package platform

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/young1lin/research2post/internal/config"
	"github.com/young1lin/research2post/internal/domain"
	"github.com/young1lin/research2post/internal/models"
)

func TestFromConfig(t *testing.T) {
	p, err := FromConfig(X, config.PlatformConfig{
		Enabled:       true,
		ClientID:      "id",
		ClientSecret:  "secret",
		RedirectURI:   "http://localhost/cb",
		MaxLength:     500,
		HashtagPolicy: "Aggressive",
	})
	require.NoError(t, err)
	assert.Equal(t, 280, p.MaxLength, "configured length cannot exceed the platform limit")
	assert.Equal(t, "aggressive", p.DefaultPolicy)
	assert.True(t, p.PKCE)
	assert.Equal(t, oauth2.AuthStyleInHeader, p.AuthStyle)

	_, err = FromConfig(LinkedIn, config.PlatformConfig{HashtagPolicy: "smart"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = FromConfig("mastodon", config.PlatformConfig{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestBudget(t *testing.T) {
	li, _ := Defaults(LinkedIn)
	assert.Equal(t, 3000, li.Budget(0))
	assert.Equal(t, 1200, li.Budget(1200))
	assert.Equal(t, 3000, li.Budget(9000))
	assert.Equal(t, 3000, li.Budget(-1))
}

func TestPolicy(t *testing.T) {
	x, _ := Defaults(X)

	p, err := x.Policy("")
	require.NoError(t, err)
	assert.Equal(t, HashtagPolicy{Name: "smart", Max: 3}, p)

	p, err = x.Policy("aggressive")
	require.NoError(t, err)
	assert.True(t, p.AlwaysAppend)
	assert.Equal(t, 5, p.Max)

	_, err = x.Policy("industry")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "aggressive, none, smart")
}

func TestPrompt(t *testing.T) {
	li, _ := Defaults(LinkedIn)
	prompt := li.Prompt("Event sourcing stores facts.", 1500)
	assert.Contains(t, prompt, "Strict 1500 character limit")
	assert.Contains(t, prompt, "Include 3-5 industry-specific hashtags")
	assert.Contains(t, prompt, "Event sourcing stores facts.")
	assert.NotContains(t, prompt, "{content}")
}

func TestIdentity(t *testing.T) {
	li, _ := Defaults(LinkedIn)
	x, _ := Defaults(X)

	var liProfile, xProfile, empty map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"sub":"abc123","name":"Ada"}`), &liProfile))
	require.NoError(t, json.Unmarshal([]byte(`{"data":{"id":"42","username":"ada"}}`), &xProfile))
	require.NoError(t, json.Unmarshal([]byte(`{"data":"oops"}`), &empty))

	assert.Equal(t, "abc123", li.Identity(liProfile))
	assert.Equal(t, "42", x.Identity(xProfile))
	assert.Empty(t, x.Identity(empty))
	assert.Empty(t, x.Identity(liProfile))
}

func TestBodies(t *testing.T) {
	li, _ := Defaults(LinkedIn)
	raw, err := json.Marshal(li.BuildBody(models.Credential{PlatformIdentity: "abc"}, "hello"))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"author": "urn:li:person:abc",
		"lifecycleState": "PUBLISHED",
		"specificContent": {"com.linkedin.ugc.ShareContent": {
			"shareCommentary": {"text": "hello"},
			"shareMediaCategory": "NONE"}},
		"visibility": {"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC"}
	}`, string(raw))

	x, _ := Defaults(X)
	raw, err = json.Marshal(x.BuildBody(models.Credential{}, "hi"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hi"}`, string(raw))

	assert.True(t, x.Expects(200))
	assert.True(t, x.Expects(201))
	assert.False(t, li.Expects(200))
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry(config.PlatformsConfig{
		LinkedIn: config.PlatformConfig{Enabled: true},
		X:        config.PlatformConfig{Enabled: false},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{LinkedIn}, r.Names())

	_, ok := r.Get("LinkedIn")
	assert.True(t, ok)
	_, ok = r.Get(X)
	assert.False(t, ok)
}
