package app

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"live-challenge-service/internal/domain"
)

func validateDefinition(def domain.ChallengeDefinition) error {
	err := validation.ValidateStruct(&def,
		validation.Field(&def.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&def.Kind, validation.Required, validation.In(domain.KindCode, domain.KindMCQ)),
		validation.Field(&def.DurationMinutes, validation.Min(0)),
		validation.Field(&def.Questions, validation.Each(validation.By(validateQuestion))),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

func validateQuestion(value interface{}) error {
	q, ok := value.(domain.MCQQuestion)
	if !ok {
		return fmt.Errorf("unexpected question type %T", value)
	}
	return validation.ValidateStruct(&q,
		validation.Field(&q.Options, validation.Required, validation.Length(2, 0)),
		validation.Field(&q.CorrectOptionIndex, validation.Min(0), validation.Max(len(q.Options)-1)),
	)
}

func validateSubmission(kind domain.Kind, req domain.SubmissionRequest) error {
	var err error
	switch kind {
	case domain.KindCode:
		err = validation.ValidateStruct(&req,
			validation.Field(&req.Code, validation.Required.Error("code and language required")),
			validation.Field(&req.Language, validation.Required.Error("code and language required")),
		)
	case domain.KindMCQ:
		if req.Answers == nil {
			err = fmt.Errorf("answers required for MCQ")
		}
	default:
		err = fmt.Errorf("invalid submission type %q", kind)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}
