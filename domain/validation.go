package domain

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// Violation is one broken rule of a command.
type Violation struct {
	Field   string
	Rule    string
	Message string
}

func (v Violation) String() string {
	return v.Message
}

// Validation stages, checked in this order. Only the violations of the first
// failing stage are reported.
const (
	stageRequired = iota
	stageBody
	stageWage
	stageDistinct
)

// ValidateSubmission checks a negotiation step without touching any state.
// It returns nil when the command is well-formed.
func ValidateSubmission(cmd SubmitMessageCommand) []Violation {
	return firstStage(validate.Struct(cmd), func(fe validator.FieldError) int {
		switch {
		case fe.Field() == "Body":
			return stageBody
		case fe.Field() == "ProposedWage" && fe.Tag() == "gte":
			return stageWage
		case fe.Tag() == "nefield":
			return stageDistinct
		}
		return stageRequired
	})
}

func ValidateCompletion(cmd CompleteConversationCommand) []Violation {
	return firstStage(validate.Struct(cmd), nil)
}

func ValidateStatusUpdate(cmd UpdateMessageStatusCommand) []Violation {
	return firstStage(validate.Struct(cmd), nil)
}

func ValidateMatchRequester(requester MatchRequester) []Violation {
	return firstStage(validate.Struct(requester), nil)
}

// ValidateCandidate checks one candidate of a match batch against its requester.
func ValidateCandidate(requester MatchRequester, candidate Candidate) []Violation {
	violations := firstStage(validate.Struct(candidate), nil)
	if len(violations) == 0 && candidate.WorkerID == requester.RequesterID {
		violations = append(violations, Violation{
			Field:   "WorkerID",
			Rule:    "nefield",
			Message: "WorkerID must differ from RequesterID",
		})
	}
	return violations
}

// Reason joins violations into a single human readable sentence.
func Reason(violations []Violation) string {
	return strings.Join(lo.Map(violations, func(v Violation, _ int) string {
		return v.Message
	}), "; ")
}

func firstStage(err error, stageOf func(validator.FieldError) int) []Violation {
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !stderrors.As(err, &fieldErrors) {
		return []Violation{{Rule: "invalid", Message: err.Error()}}
	}
	if stageOf == nil {
		stageOf = func(validator.FieldError) int { return stageRequired }
	}

	staged := lo.GroupBy(fieldErrors, func(fe validator.FieldError) int {
		return stageOf(fe)
	})
	stages := lo.Keys(staged)
	sort.Ints(stages)

	return lo.Map(staged[stages[0]], func(fe validator.FieldError, _ int) Violation {
		return Violation{Field: fe.Field(), Rule: fe.Tag(), Message: describe(fe)}
	})
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "notblank":
		return fmt.Sprintf("%s must not be empty", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", fe.Field(), fe.Param())
	case "nefield":
		return fmt.Sprintf("%s must differ from %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "excludesall":
		return fmt.Sprintf("%s must not contain %q", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag())
}
