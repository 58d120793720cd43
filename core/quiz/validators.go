package quiz

import (
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/mtihani/core"
)

var (
	mcqOptionsTag  = "mcqoptions"
	mcqOptionsText = "an MCQ question requires at least 2 options with at least one marked correct"

	subjOptionsTag  = "subjoptions"
	subjOptionsText = "a SUBJECTIVE question cannot have options"

	timeWindowTag  = "timewindow"
	timeWindowText = "end time must be after start time"
)

func init() {
	core.Validate.RegisterStructValidation(questionStructValidation, NewQuestion{})
	core.RegisterCustomTranslation(mcqOptionsTag, mcqOptionsText)
	core.RegisterCustomTranslation(subjOptionsTag, subjOptionsText)

	core.Validate.RegisterStructValidation(quizStructValidation, NewQuiz{})
	core.Validate.RegisterStructValidation(quizStructValidation, UpdateQuiz{})
	core.RegisterCustomTranslation(timeWindowTag, timeWindowText)
}

// questionStructValidation enforces the option invariants per question type:
// MCQ needs at least 2 options, one of them correct; SUBJECTIVE carries none.
func questionStructValidation(sl validator.StructLevel) {
	nq := sl.Current().Interface().(NewQuestion)
	typ := nq.Type
	if typ == "" {
		typ = TypeMCQ
	}

	switch typ {
	case TypeMCQ:
		var hasCorrect bool
		for _, opt := range nq.Options {
			if opt.IsCorrect {
				hasCorrect = true
				break
			}
		}
		if len(nq.Options) < 2 || !hasCorrect {
			sl.ReportError(nq.Options, "options", "Options", mcqOptionsTag, "")
		}
	case TypeSubjective:
		if len(nq.Options) > 0 {
			sl.ReportError(nq.Options, "options", "Options", subjOptionsTag, "")
		}
	}
}

// quizStructValidation checks that the time window is coherent when both bounds are set.
func quizStructValidation(sl validator.StructLevel) {
	switch q := sl.Current().Interface().(type) {
	case NewQuiz:
		if q.StartTime != nil && q.EndTime != nil && !q.EndTime.After(*q.StartTime) {
			sl.ReportError(q.EndTime, "end_time", "EndTime", timeWindowTag, "")
		}
	case UpdateQuiz:
		if q.StartTime != nil && q.EndTime != nil && !q.EndTime.After(*q.StartTime) {
			sl.ReportError(q.EndTime, "end_time", "EndTime", timeWindowTag, "")
		}
	}
}
