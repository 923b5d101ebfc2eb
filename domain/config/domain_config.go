package config

import (
	"fmt"
	"time"

	"communitysync/domain/core/valueobjects"
)

// Feed names registered by default.
const (
	FeedPublications = "publications"
	FeedLibraryRoot  = "library-root"
	FeedUsers        = "users"
)

// FeedSpec parameterizes one paginated list.
type FeedSpec struct {
	Name     string
	Resource valueobjects.EntityType
	PageSize int
	// ReactionTarget is empty for feeds whose items carry no reactions.
	ReactionTarget valueobjects.TargetType
	// TreeBacked feeds ingest parent/children into the tree index.
	TreeBacked bool
}

// HasReactions reports whether loaded items need their reactions fetched
func (f FeedSpec) HasReactions() bool {
	return f.ReactionTarget != ""
}

// DomainConfig holds all configurable business rules and constraints
type DomainConfig struct {
	Feeds []FeedSpec

	// Library note constraints
	MaxTitleLength       int
	MinTitleLength       int
	MaxDescriptionLength int

	// Tree guard: ancestry walks stop after this many hops
	MaxTreeDepth int

	// Concurrency limits
	MaxQueuedMutationsPerEntity int
	ReactionRefreshParallelism  int

	// Refetch of a reaction aggregate after a confirmed write
	ReactionRefetchAttempts int
	ReactionRefetchDelay    time.Duration

	// Time constraints
	SessionTimeout time.Duration
	RequestTimeout time.Duration

	// Feature flags
	RefreshReactionsOnLoad bool
	SeedBaselineOnSession  bool
}

// DefaultDomainConfig returns the default domain configuration
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		Feeds: []FeedSpec{
			{
				Name:           FeedPublications,
				Resource:       valueobjects.EntityPublication,
				PageSize:       4,
				ReactionTarget: valueobjects.TargetPublication,
			},
			{
				Name:           FeedLibraryRoot,
				Resource:       valueobjects.EntityLibrary,
				PageSize:       50,
				ReactionTarget: valueobjects.TargetLibrary,
				TreeBacked:     true,
			},
			{
				Name:     FeedUsers,
				Resource: valueobjects.EntityUser,
				PageSize: 20,
			},
		},

		MaxTitleLength:       200,
		MinTitleLength:       1,
		MaxDescriptionLength: 50000,

		MaxTreeDepth: 1000,

		MaxQueuedMutationsPerEntity: 16,
		ReactionRefreshParallelism:  4,

		ReactionRefetchAttempts: 3,
		ReactionRefetchDelay:    200 * time.Millisecond,

		SessionTimeout: 30 * time.Minute,
		RequestTimeout: 10 * time.Second,

		RefreshReactionsOnLoad: true,
		SeedBaselineOnSession:  true,
	}
}

// ProductionDomainConfig returns production-specific configuration
func ProductionDomainConfig() *DomainConfig {
	config := DefaultDomainConfig()

	config.MaxQueuedMutationsPerEntity = 8
	config.ReactionRefreshParallelism = 8
	config.SessionTimeout = 2 * time.Hour

	return config
}

// DevelopmentDomainConfig returns development-specific configuration
func DevelopmentDomainConfig() *DomainConfig {
	config := DefaultDomainConfig()

	config.RequestTimeout = 30 * time.Second
	config.SeedBaselineOnSession = false

	return config
}

// LoadDomainConfig loads domain configuration based on environment
func LoadDomainConfig(environment string) *DomainConfig {
	switch environment {
	case "production":
		return ProductionDomainConfig()
	case "development":
		return DevelopmentDomainConfig()
	default:
		return DefaultDomainConfig()
	}
}

// Feed looks up a feed spec by name
func (c *DomainConfig) Feed(name string) (FeedSpec, bool) {
	for _, f := range c.Feeds {
		if f.Name == name {
			return f, true
		}
	}
	return FeedSpec{}, false
}

// Validate checks if the configuration is valid
func (c *DomainConfig) Validate() error {
	seen := make(map[string]bool, len(c.Feeds))
	for _, f := range c.Feeds {
		if f.Name == "" {
			return fmt.Errorf("feed name is required")
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate feed %q", f.Name)
		}
		seen[f.Name] = true
		if !f.Resource.IsValid() {
			return fmt.Errorf("feed %q: unknown resource %q", f.Name, f.Resource)
		}
		if f.PageSize <= 0 {
			return fmt.Errorf("feed %q: page size must be positive", f.Name)
		}
		if f.TreeBacked && f.Resource != valueobjects.EntityLibrary {
			return fmt.Errorf("feed %q: only library feeds can be tree backed", f.Name)
		}
	}
	if c.MinTitleLength < 0 || c.MaxTitleLength < c.MinTitleLength {
		return fmt.Errorf("invalid title length bounds %d..%d", c.MinTitleLength, c.MaxTitleLength)
	}
	if c.MaxTreeDepth <= 0 {
		return fmt.Errorf("max tree depth must be positive")
	}
	if c.MaxQueuedMutationsPerEntity <= 0 {
		return fmt.Errorf("max queued mutations must be positive")
	}
	if c.ReactionRefreshParallelism <= 0 {
		return fmt.Errorf("reaction refresh parallelism must be positive")
	}
	if c.ReactionRefetchAttempts <= 0 {
		return fmt.Errorf("reaction refetch attempts must be positive")
	}
	return nil
}
