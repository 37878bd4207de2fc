package refresh

import (
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-credentials/core"
)

// Descriptor holds the provider-specific pieces of a direct token refresh:
// the token endpoint, the identity endpoint used for ad hoc token checks,
// any non-standard form parameters the provider wants, and a table of
// provider error phrases the shared classifier would misread.
type Descriptor struct {
	ProviderID      string
	TokenURL        string
	IdentityURL     string
	ExtraFormParams map[string]string

	// ErrorPatterns maps case-insensitive substrings of provider error
	// messages to taxonomy classes. Matches win over core.Classify.
	ErrorPatterns map[string]core.ErrorClass
}

// MatchError looks up the provider's error-pattern table. The boolean is
// false when no pattern applies and the shared classifier should decide.
func (d Descriptor) MatchError(err error) (core.ErrorClass, bool) {
	if err == nil || len(d.ErrorPatterns) == 0 {
		return "", false
	}
	msg := strings.ToLower(err.Error())
	for pattern, class := range d.ErrorPatterns {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		if strings.Contains(msg, pattern) {
			return class, true
		}
	}
	return "", false
}

func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.ProviderID) == "" {
		return fmt.Errorf("refresh: descriptor provider id is required")
	}
	if strings.TrimSpace(d.TokenURL) == "" {
		return fmt.Errorf("refresh: descriptor token url is required")
	}
	return nil
}

// DescriptorRegistry maps provider ids to refresh descriptors. Lookups are
// case-insensitive on the provider id.
type DescriptorRegistry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

func NewDescriptorRegistry() *DescriptorRegistry {
	return &DescriptorRegistry{descriptors: make(map[string]Descriptor)}
}

func (r *DescriptorRegistry) Register(descriptor Descriptor) error {
	if r == nil {
		return fmt.Errorf("refresh: descriptor registry is not configured")
	}
	if err := descriptor.Validate(); err != nil {
		return err
	}
	key := strings.ToLower(strings.TrimSpace(descriptor.ProviderID))
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[key]; exists {
		return fmt.Errorf("refresh: descriptor %q is already registered", descriptor.ProviderID)
	}
	r.descriptors[key] = descriptor
	return nil
}

func (r *DescriptorRegistry) Get(providerID string) (Descriptor, bool) {
	if r == nil {
		return Descriptor{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	descriptor, ok := r.descriptors[strings.ToLower(strings.TrimSpace(providerID))]
	return descriptor, ok
}

func (r *DescriptorRegistry) ProviderIDs() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.descriptors))
	for _, descriptor := range r.descriptors {
		ids = append(ids, descriptor.ProviderID)
	}
	return ids
}

// BuiltinDescriptors covers the providers most installations integrate with.
// Installations add or override descriptors at wiring time.
func BuiltinDescriptors() []Descriptor {
	return []Descriptor{
		{
			ProviderID:  "google",
			TokenURL:    "https://oauth2.googleapis.com/token",
			IdentityURL: "https://openidconnect.googleapis.com/v1/userinfo",
			ErrorPatterns: map[string]core.ErrorClass{
				"invalid_rapt":   core.ErrorClassInvalidRefreshToken,
				"deleted_client": core.ErrorClassInvalidClient,
			},
		},
		{
			ProviderID:  "github",
			TokenURL:    "https://github.com/login/oauth/access_token",
			IdentityURL: "https://api.github.com/user",
			ErrorPatterns: map[string]core.ErrorClass{
				"bad_refresh_token":            core.ErrorClassInvalidRefreshToken,
				"incorrect_client_credentials": core.ErrorClassInvalidClient,
			},
		},
		{
			ProviderID:  "slack",
			TokenURL:    "https://slack.com/api/oauth.v2.access",
			IdentityURL: "https://slack.com/api/auth.test",
			ErrorPatterns: map[string]core.ErrorClass{
				"token_revoked": core.ErrorClassInvalidRefreshToken,
				"invalid_auth":  core.ErrorClassInvalidRefreshToken,
				"ratelimited":   core.ErrorClassRateLimited,
			},
		},
		{
			ProviderID:  "microsoft",
			TokenURL:    "https://login.microsoftonline.com/common/oauth2/v2.0/token",
			IdentityURL: "https://graph.microsoft.com/v1.0/me",
			ErrorPatterns: map[string]core.ErrorClass{
				"aadsts700082":  core.ErrorClassInvalidRefreshToken,
				"aadsts7000215": core.ErrorClassInvalidClient,
			},
		},
	}
}

// NewBuiltinRegistry returns a registry preloaded with BuiltinDescriptors.
func NewBuiltinRegistry() *DescriptorRegistry {
	registry := NewDescriptorRegistry()
	for _, descriptor := range BuiltinDescriptors() {
		// Builtins are unique by construction.
		_ = registry.Register(descriptor)
	}
	return registry
}
