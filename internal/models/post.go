package models

// Credential is the stored OAuth result for one user on one platform.
type Credential struct {
	UserID           string `json:"user_id"`
	AccessToken      string `json:"access_token"`
	PlatformIdentity string `json:"platform_identity"`
}

// AuthorizationResult is returned after a successful callback.
type AuthorizationResult struct {
	Status string `json:"status"`
	UserID string `json:"user_id"`
}

// PublishedPost identifies a post created on a platform.
type PublishedPost struct {
	ID  string         `json:"id"`
	Raw map[string]any `json:"raw,omitempty"`
}

const (
	StatusSuccess  = "success"
	StatusCanceled = "canceled"
	StatusError    = "error"
)

// PublishResult is the outcome of one research-and-publish run. It is always
// returned, never an error.
type PublishResult struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Platform string `json:"platform"`
	PostID   string `json:"post_id,omitempty"`
	Content  string `json:"content,omitempty"`
}
