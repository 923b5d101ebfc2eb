package validators

import (
	"strings"
	"unicode/utf8"

	"communitysync/domain/config"
	"communitysync/domain/core/entities"
	"communitysync/pkg/errors"
)

// LibraryDraftValidator validates note drafts before any state change
type LibraryDraftValidator struct {
	titleMinLength       int
	titleMaxLength       int
	descriptionMaxLength int
}

// NewLibraryDraftValidator creates a validator bound to the configured limits
func NewLibraryDraftValidator(cfg *config.DomainConfig) *LibraryDraftValidator {
	return &LibraryDraftValidator{
		titleMinLength:       cfg.MinTitleLength,
		titleMaxLength:       cfg.MaxTitleLength,
		descriptionMaxLength: cfg.MaxDescriptionLength,
	}
}

// Validate checks a draft. Creates require a title; edits are partial and
// only validate what they carry.
func (v *LibraryDraftValidator) Validate(draft entities.LibraryDraft, isCreate bool) error {
	validationErrors := errors.NewValidationErrors()

	title := strings.TrimSpace(draft.Title)
	switch {
	case title == "" && isCreate:
		validationErrors.Add("title", "title is required")
	case title != "" && utf8.RuneCountInString(title) < v.titleMinLength:
		validationErrors.AddError(errors.NewDomainError(
			errors.DomainValidationError,
			"TITLE_TOO_SHORT",
			"Title is too short",
		).WithDetail("field", "title").WithDetail("min_length", v.titleMinLength))
	case utf8.RuneCountInString(title) > v.titleMaxLength:
		validationErrors.AddError(errors.NewDomainError(
			errors.DomainValidationError,
			"TITLE_TOO_LONG",
			"Title exceeds maximum length",
		).WithDetail("field", "title").WithDetail("max_length", v.titleMaxLength))
	}

	if utf8.RuneCountInString(draft.Description) > v.descriptionMaxLength {
		validationErrors.AddError(errors.NewDomainError(
			errors.DomainValidationError,
			"DESCRIPTION_TOO_LONG",
			"Description exceeds maximum length",
		).WithDetail("field", "description").WithDetail("max_length", v.descriptionMaxLength))
	}

	// Rich-text descriptions are rendered as HTML by the client
	lower := strings.ToLower(draft.Description)
	if strings.Contains(lower, "<script") || strings.Contains(lower, "javascript:") {
		validationErrors.AddError(errors.NewDomainError(
			errors.DomainValidationError,
			"MALICIOUS_CONTENT",
			"Description contains potentially malicious code",
		).WithDetail("field", "description"))
	}

	switch draft.Visibility {
	case "", entities.VisibilityGeneral, entities.VisibilityUsers, entities.VisibilityAdmin:
	default:
		validationErrors.AddError(errors.NewDomainError(
			errors.DomainValidationError,
			"INVALID_VISIBILITY",
			"Visibility must be GENERAL, USERS or ADMIN",
		).WithDetail("field", "visibility").WithDetail("value", string(draft.Visibility)))
	}

	if draft.ParentID != nil && draft.ParentID.IsTemporary() {
		validationErrors.Add("parentNoteId", "parent note has not been saved yet")
	}

	for key := range draft.Extra {
		switch key {
		case "id", entities.FieldParentNoteID, entities.FieldParent, entities.FieldChildren:
			validationErrors.Add(key, "field cannot be set directly")
		}
	}

	if validationErrors.HasErrors() {
		return errors.InvalidDraft(validationErrors.Error()).
			WithDetail("fields", validationErrors.ToMap())
	}
	return nil
}
