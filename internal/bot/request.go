package bot

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// FetchRequest is one message from the bot's inbound topic: a user asking for
// the media behind URL to be stored.
type FetchRequest struct {
	UserID   int64  `json:"userId"`
	UserName string `json:"userName,omitempty"`
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"` // optional title; otherwise resolved
}

var (
	ErrInvalidRequest = errors.New("invalid fetch request")
	ErrBanned         = errors.New("user is banned")
	ErrRateLimited    = errors.New("rate limit exceeded")
)

func (r FetchRequest) Validate() error {
	if r.UserID == 0 {
		return fmt.Errorf("%w: missing user id", ErrInvalidRequest)
	}
	u, err := url.Parse(strings.TrimSpace(r.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q is not an http(s) link", ErrInvalidRequest, r.URL)
	}
	return nil
}
