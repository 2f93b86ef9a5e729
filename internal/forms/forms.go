// Package forms normalises and validates user submissions before they reach
// the store. Validation failures are reported per form field so callers can
// show each message next to its input.
package forms

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	MaxTitleLength = 100
	MaxTags        = 5
	MaxTagLength   = 20
)

// Form field names used as FieldErrors keys.
const (
	FieldTitle    = "title"
	FieldText     = "text"
	FieldTags     = "tags"
	FieldUsername = "username"
)

var (
	hyperlinkPattern = regexp.MustCompile(`\[([^\]]*)\]\(([^)]*)\)`)
	validURLPrefix   = regexp.MustCompile(`^https?://\S`)
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("hyperlinks", validateHyperlinks)
}

// validateHyperlinks fails when text contains a markdown link with an empty
// label or a URL not starting with http:// or https://.
func validateHyperlinks(fl validator.FieldLevel) bool {
	return ValidHyperlinks(fl.Field().String())
}

// ValidHyperlinks reports whether every [label](url) link in text has a
// non-empty label and an http(s) URL. Text without links is valid.
func ValidHyperlinks(text string) bool {
	for _, m := range hyperlinkPattern.FindAllStringSubmatch(text, -1) {
		if strings.TrimSpace(m[1]) == "" {
			return false
		}
		if !validURLPrefix.MatchString(strings.TrimSpace(m[2])) {
			return false
		}
	}
	return true
}

// FieldErrors maps a form field to its validation message.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	keys := f.Fields()
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, f[k]))
	}
	return "invalid submission: " + strings.Join(parts, "; ")
}

// Fields returns the invalid field names in sorted order.
func (f FieldErrors) Fields() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AsFieldErrors unwraps err into FieldErrors.
func AsFieldErrors(err error) (FieldErrors, bool) {
	var fe FieldErrors
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// SplitTags splits whitespace-separated tag input, dropping empty tokens.
func SplitTags(input string) []string {
	return strings.Fields(input)
}

// Question is the ask-question form.
type Question struct {
	Title   string   `json:"title" validate:"required,max=100"`
	Text    string   `json:"text" validate:"required,hyperlinks"`
	Tags    []string `json:"tags" validate:"min=1,max=5,dive,max=20"`
	AskedBy string   `json:"asked_by" validate:"required"`
}

// Normalize trims every field and drops blank tags. Tags that contain
// whitespace are split into separate tags.
func (q *Question) Normalize() {
	q.Title = strings.TrimSpace(q.Title)
	q.Text = strings.TrimSpace(q.Text)
	q.AskedBy = strings.TrimSpace(q.AskedBy)
	q.Tags = SplitTags(strings.Join(q.Tags, " "))
}

// Validate normalises q and checks it, returning FieldErrors on failure.
func (q *Question) Validate() error {
	q.Normalize()
	return collect(validate.Struct(q), questionMessages)
}

// Answer is the post-answer form.
type Answer struct {
	QuestionID string `json:"qid"`
	Text       string `json:"text" validate:"required,hyperlinks"`
	AnsBy      string `json:"ans_by" validate:"required"`
}

// Normalize trims every field.
func (a *Answer) Normalize() {
	a.QuestionID = strings.TrimSpace(a.QuestionID)
	a.Text = strings.TrimSpace(a.Text)
	a.AnsBy = strings.TrimSpace(a.AnsBy)
}

// Validate normalises a and checks it, returning FieldErrors on failure.
func (a *Answer) Validate() error {
	a.Normalize()
	return collect(validate.Struct(a), answerMessages)
}

// messageFunc maps a failed struct field and tag to a form field and message.
type messageFunc func(field, tag string) (string, string)

func questionMessages(field, tag string) (string, string) {
	switch field {
	case "Title":
		if tag == "max" {
			return FieldTitle, fmt.Sprintf("Title cannot be more than %d characters", MaxTitleLength)
		}
		return FieldTitle, "Title cannot be empty"
	case "Text":
		if tag == "hyperlinks" {
			return FieldText, "Invalid hyperlink"
		}
		return FieldText, "Question text cannot be empty"
	case "Tags":
		if tag == "max" {
			return FieldTags, fmt.Sprintf("Cannot have more than %d tags", MaxTags)
		}
		return FieldTags, "Cannot have less than 1 tag"
	case "AskedBy":
		return FieldUsername, "Username cannot be empty"
	default:
		// dive errors carry the element name, e.g. Tags[2]
		if strings.HasPrefix(field, "Tags[") {
			return FieldTags, fmt.Sprintf("New tag length cannot be more than %d", MaxTagLength)
		}
		return strings.ToLower(field), "is invalid"
	}
}

func answerMessages(field, tag string) (string, string) {
	switch field {
	case "Text":
		if tag == "hyperlinks" {
			return FieldText, "Invalid hyperlink"
		}
		return FieldText, "Answer text cannot be empty"
	case "AnsBy":
		return FieldUsername, "Username cannot be empty"
	default:
		return strings.ToLower(field), "is invalid"
	}
}

func collect(err error, msg messageFunc) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate: %w", err)
	}

	fe := FieldErrors{}
	for _, v := range verrs {
		field, text := msg(v.Field(), v.Tag())
		// first failure per field wins
		if _, ok := fe[field]; !ok {
			fe[field] = text
		}
	}
	return fe
}
