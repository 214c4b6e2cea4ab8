// Package settings supplies the retention configuration read by the sweeper.
package settings

import (
	"context"
	"fmt"

	"github.com/asaidimu/anansi-fixtures/core"
)

// Settings controls automatic cleanup. A nil retention period disables the
// corresponding sweep phase.
type Settings struct {
	AutoCleanupEnabled  bool `json:"autoCleanupEnabled" yaml:"autoCleanupEnabled"`
	SchemaRetentionDays *int `json:"schemaRetentionDays,omitempty" yaml:"schemaRetentionDays,omitempty"`
	EntityRetentionDays *int `json:"entityRetentionDays,omitempty" yaml:"entityRetentionDays,omitempty"`
}

// Validate rejects negative retention periods.
func (s Settings) Validate() error {
	var issues []core.Issue
	check := func(path string, days *int) {
		if days != nil && *days < 0 {
			issues = append(issues, core.Issue{
				Code:     "NEGATIVE_RETENTION",
				Message:  fmt.Sprintf("%s must not be negative, got %d", path, *days),
				Path:     path,
				Severity: "error",
			})
		}
	}
	check("schemaRetentionDays", s.SchemaRetentionDays)
	check("entityRetentionDays", s.EntityRetentionDays)
	if len(issues) > 0 {
		return core.NewValidationError(core.ErrValidation, issues)
	}
	return nil
}

// Days is a convenience for building Settings literals.
func Days(n int) *int {
	return &n
}

// Provider returns the current settings.
type Provider interface {
	Settings(ctx context.Context) (Settings, error)
}

// Static is a Provider that always returns the same settings.
type Static Settings

func (s Static) Settings(ctx context.Context) (Settings, error) {
	return Settings(s), nil
}
