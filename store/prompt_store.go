package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrPromptNotFound is returned for operations on a prompt id with no row.
var ErrPromptNotFound = errors.New("prompt not found")

// VersionSpec carries the definition fields of a new prompt version.
type VersionSpec struct {
	SystemTemplate string
	UserTemplate   string
	PromptType     string
	IsChat         bool

	Model    string
	Provider string
	BaseURL  string

	SupportsJSON       bool
	SupportsJSONSchema bool
	SupportsTools      bool
	IsReasoning        bool

	MaxTokens   int
	Temperature float32
	JSONMode    bool
	JSONSchema  string
}

func (spec VersionSpec) row(promptID uint, number int) *PromptVersion {
	return &PromptVersion{
		PromptID:           promptID,
		Number:             number,
		SystemTemplate:     spec.SystemTemplate,
		UserTemplate:       spec.UserTemplate,
		PromptType:         spec.PromptType,
		IsChat:             spec.IsChat,
		Model:              spec.Model,
		Provider:           spec.Provider,
		BaseURL:            spec.BaseURL,
		SupportsJSON:       spec.SupportsJSON,
		SupportsJSONSchema: spec.SupportsJSONSchema,
		SupportsTools:      spec.SupportsTools,
		IsReasoning:        spec.IsReasoning,
		MaxTokens:          spec.MaxTokens,
		Temperature:        spec.Temperature,
		JSONMode:           spec.JSONMode,
		JSONSchema:         spec.JSONSchema,
	}
}

// CreatePrompt creates a prompt with its first version and points current
// at it.
func (s *Store) CreatePrompt(ctx context.Context, name, description string, spec VersionSpec) (*Prompt, *PromptVersion, error) {
	p := &Prompt{Name: name, Description: description}
	var v *PromptVersion

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(p).Error; err != nil {
			return fmt.Errorf("failed to create prompt: %w", err)
		}
		v = spec.row(p.ID, 1)
		if err := tx.Create(v).Error; err != nil {
			return fmt.Errorf("failed to create prompt version: %w", err)
		}
		return tx.Model(p).Update("current_version_id", v.ID).Error
	})
	if err != nil {
		return nil, nil, err
	}
	p.CurrentVersionID = &v.ID
	return p, v, nil
}

// UpdatePrompt appends a new version for the prompt and re-points current.
// Existing versions are never modified.
func (s *Store) UpdatePrompt(ctx context.Context, promptID uint, spec VersionSpec) (*PromptVersion, error) {
	var v *PromptVersion

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p Prompt
		if err := tx.First(&p, promptID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPromptNotFound
			}
			return err
		}

		var latest int
		row := tx.Model(&PromptVersion{}).
			Where("prompt_id = ?", promptID).
			Select("COALESCE(MAX(number), 0)").
			Row()
		if err := row.Scan(&latest); err != nil {
			return fmt.Errorf("failed to read latest version number: %w", err)
		}

		v = spec.row(promptID, latest+1)
		if err := tx.Create(v).Error; err != nil {
			return fmt.Errorf("failed to create prompt version: %w", err)
		}
		return tx.Model(&p).Update("current_version_id", v.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// DeletePrompt removes the prompt, its versions and its eval inputs.
func (s *Store) DeletePrompt(ctx context.Context, promptID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&Prompt{}, promptID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrPromptNotFound
		}
		if err := tx.Where("prompt_id = ?", promptID).Delete(&PromptVersion{}).Error; err != nil {
			return err
		}
		return tx.Where("prompt_id = ?", promptID).Delete(&EvalInput{}).Error
	})
}

// GetPrompt returns a prompt by id, or nil when absent.
func (s *Store) GetPrompt(ctx context.Context, promptID uint) (*Prompt, error) {
	var p Prompt
	err := s.db.WithContext(ctx).First(&p, promptID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPrompts returns all prompts ordered by id.
func (s *Store) ListPrompts(ctx context.Context) ([]Prompt, error) {
	var prompts []Prompt
	if err := s.db.WithContext(ctx).Order("id").Find(&prompts).Error; err != nil {
		return nil, err
	}
	return prompts, nil
}

// CurrentVersion returns the prompt's current version row, or nil when the
// prompt is absent or has no current version.
func (s *Store) CurrentVersion(ctx context.Context, promptID uint) (*PromptVersion, error) {
	var p Prompt
	err := s.db.WithContext(ctx).First(&p, promptID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if p.CurrentVersionID == nil {
		return nil, nil
	}
	return s.GetVersion(ctx, *p.CurrentVersionID)
}

// GetVersion returns one version row by id, or nil when absent.
func (s *Store) GetVersion(ctx context.Context, versionID uint) (*PromptVersion, error) {
	var v PromptVersion
	err := s.db.WithContext(ctx).First(&v, versionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVersions returns every version of a prompt in ascending number order.
func (s *Store) ListVersions(ctx context.Context, promptID uint) ([]PromptVersion, error) {
	var versions []PromptVersion
	err := s.db.WithContext(ctx).
		Where("prompt_id = ?", promptID).
		Order("number").
		Find(&versions).Error
	if err != nil {
		return nil, err
	}
	return versions, nil
}
