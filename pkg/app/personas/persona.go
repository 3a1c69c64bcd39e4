package personas

import (
	"errors"
	"regexp"
	"sort"
	"strings"
)

var (
	ErrPersonaExists   = errors.New("userId already exists")
	ErrPersonaNotFound = errors.New("persona not found")
	ErrNotConfigured   = errors.New("personas store not configured")
)

// ValidationError is a rejected persona payload.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Persona is a display profile attached to orders.
type Persona struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	AvatarURL string `json:"avatarUrl"`
	Bio       string `json:"bio"`
	CreatedAt int64  `json:"createdAt,omitempty"` // unix seconds
	UpdatedAt int64  `json:"updatedAt,omitempty"`
}

const UnknownUserID = "unknown"

// Unknown is the fallback persona. An empty userID yields the shared
// "unknown" identity; otherwise the requested id is kept.
func Unknown(userID string) Persona {
	if userID == "" {
		userID = UnknownUserID
	}
	return Persona{UserID: userID, UserName: "Unknown User"}
}

// Update carries the fields present in a PUT body; nil means untouched.
type Update struct {
	UserName  *string `json:"userName"`
	AvatarURL *string `json:"avatarUrl"`
	Bio       *string `json:"bio"`
}

func (u Update) Empty() bool {
	return u.UserName == nil && u.AvatarURL == nil && u.Bio == nil
}

// Apply writes the present fields onto p, trimming whitespace.
func (u Update) Apply(p *Persona, updatedAt int64) {
	if u.UserName != nil {
		p.UserName = strings.TrimSpace(*u.UserName)
	}
	if u.AvatarURL != nil {
		p.AvatarURL = strings.TrimSpace(*u.AvatarURL)
	}
	if u.Bio != nil {
		p.Bio = strings.TrimSpace(*u.Bio)
	}
	p.UpdatedAt = updatedAt
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases name, collapses non-alphanumeric runs to "-" and caps
// the result at 48 bytes.
func Slugify(name string) string {
	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if len(slug) > 48 {
		slug = slug[:48]
	}
	return slug
}

// SortByName orders personas by case-insensitive userName.
func SortByName(items []Persona) {
	sort.SliceStable(items, func(i, j int) bool {
		return strings.ToLower(items[i].UserName) < strings.ToLower(items[j].UserName)
	})
}
