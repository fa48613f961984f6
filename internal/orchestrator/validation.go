package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/lamim/classforge/internal/util"
	"github.com/lamim/classforge/pkg/models"
)

var (
	// ErrIllegalTransition is returned when an input does not apply to the
	// current stage
	ErrIllegalTransition = errors.New("illegal transition")
	// ErrEmptyBasis rejects a submission with neither video nor topic
	ErrEmptyBasis = errors.New("no video URL or topic provided")
	// ErrInvalidBasis wraps field validation failures
	ErrInvalidBasis = errors.New("invalid content basis")
	// ErrEmptySpecification is the failure recorded when a specification
	// stream produced no text
	ErrEmptySpecification = errors.New("specification generation returned no content")
	// ErrEmptyCode is the failure recorded when code extraction produced nothing
	ErrEmptyCode = errors.New("code generation returned no content")
	// ErrNoSpecification rejects edits and refinements before a spec exists
	ErrNoSpecification  = errors.New("no specification to modify")
	ErrEditInProgress   = errors.New("an edit session is already open")
	ErrNoEditSession    = errors.New("no edit session is open")
	ErrEmptyDraft       = errors.New("edited specification is empty")
	ErrEmptyInstruction = errors.New("refinement instructions are empty")
	ErrClosed           = errors.New("orchestrator is closed")
	// ErrInterrupted marks a restored run that was in flight when its
	// session stopped
	ErrInterrupted = errors.New("generation was interrupted before it completed")
	// ErrMalformedRefinement is matched by every *MalformedRefinementError
	ErrMalformedRefinement = errors.New("malformed refinement")
)

// MalformedRefinementError reports a refine response without a spec field
type MalformedRefinementError struct {
	Reason string
	Err    error
}

func (e *MalformedRefinementError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("Refinement failed: %s: %v", e.Reason, e.Err)
	}
	return "Refinement failed: " + e.Reason
}

func (e *MalformedRefinementError) Unwrap() error { return e.Err }

func (e *MalformedRefinementError) Is(target error) bool {
	return target == ErrMalformedRefinement
}

var validate = validator.New()

// ValidateBasis checks a submission before any credit is charged
func ValidateBasis(basis models.ContentBasis) error {
	if !basis.HasVideo() && !basis.HasTopic() {
		return ErrEmptyBasis
	}
	if err := validate.Struct(basis); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidBasis, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidBasis, err)
	}
	return nil
}

// normalizeBasis trims input text and applies the default complexity
func normalizeBasis(basis models.ContentBasis) models.ContentBasis {
	basis.VideoURL = strings.TrimSpace(basis.VideoURL)
	basis.TopicOrDetails = strings.TrimSpace(basis.TopicOrDetails)
	if basis.Complexity == 0 {
		basis.Complexity = models.ComplexityStandard
	}
	return basis
}

// parseRefinement extracts the spec field of a structured refine response
func parseRefinement(text string) (string, error) {
	raw := util.ExtractJSON(util.StripThinkTags(text))
	if !strings.HasPrefix(raw, "{") {
		return "", &MalformedRefinementError{Reason: "response is not a JSON object"}
	}

	var payload map[string]json.RawMessage
	if err := util.UnmarshalLenient(raw, &payload); err != nil {
		return "", &MalformedRefinementError{Reason: "response is not valid JSON", Err: err}
	}
	field, ok := payload["spec"]
	if !ok {
		return "", &MalformedRefinementError{Reason: "response has no spec field"}
	}
	var spec string
	if err := json.Unmarshal(field, &spec); err != nil {
		return "", &MalformedRefinementError{Reason: "spec field is not a string"}
	}
	if strings.TrimSpace(spec) == "" {
		return "", &MalformedRefinementError{Reason: "spec field is empty"}
	}
	return spec, nil
}

// ensureAddendum appends the fixed trailing addendum exactly once. Copies
// anywhere in spec are removed first, since refined specs often continue
// after the previous addendum.
func ensureAddendum(spec, addendum string) string {
	addendum = strings.TrimSpace(addendum)
	if addendum == "" {
		return strings.TrimRight(spec, " \t\r\n")
	}
	body := stripAddendum(spec, addendum)
	if body == "" {
		return addendum
	}
	return body + "\n\n" + addendum
}

// stripAddendum removes every occurrence of addendum and rejoins the
// remaining sections with a blank line
func stripAddendum(spec, addendum string) string {
	addendum = strings.TrimSpace(addendum)
	if addendum == "" {
		return strings.TrimRight(spec, " \t\r\n")
	}
	parts := strings.Split(spec, addendum)
	kept := make([]string, 0, len(parts))
	for i, part := range parts {
		if i == 0 {
			part = strings.TrimRight(part, " \t\r\n")
		} else {
			part = strings.TrimSpace(part)
		}
		if part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, "\n\n")
}
