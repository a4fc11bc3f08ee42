// Package scoring maps a question and a submitted answer to correctness and
// points. It has no I/O and no clock.
package scoring

import (
	"bytes"
	"encoding/json"
	"strings"

	"exam-room-service/internal/domain"
)

// Answer is the decoded submission. Exactly one of the payload fields is set,
// selected by Type.
type Answer struct {
	Type    domain.QuestionType
	Text    string
	Choices []string
	Pairs   []domain.Pair
}

// Result is the outcome of scoring one answer.
type Result struct {
	Correct bool
	Score   int
	// Graded is false for answers left to manual review.
	Graded bool
}

// DecodeAnswer resolves the raw wire payload for the given question type.
// Choice questions accept a string or a list of strings; drag-and-drop accepts
// a list of {draggable, dropZone} objects.
func DecodeAnswer(qType domain.QuestionType, raw json.RawMessage) (Answer, error) {
	answer := Answer{Type: qType}
	raw = bytes.TrimSpace(raw)
	switch qType {
	case domain.QuestionMultipleChoice, domain.QuestionCheckboxes, domain.QuestionDropdown:
		if len(raw) > 0 && raw[0] == '[' {
			if err := json.Unmarshal(raw, &answer.Choices); err != nil {
				return Answer{}, domain.Wrap(domain.CodeValidation, "choice answer must be a string or list of strings", err)
			}
			return answer, nil
		}
		if err := json.Unmarshal(raw, &answer.Text); err != nil {
			return Answer{}, domain.Wrap(domain.CodeValidation, "choice answer must be a string or list of strings", err)
		}
		return answer, nil
	case domain.QuestionFillInBlank, domain.QuestionParagraph:
		if err := json.Unmarshal(raw, &answer.Text); err != nil {
			return Answer{}, domain.Wrap(domain.CodeValidation, "text answer must be a string", err)
		}
		return answer, nil
	case domain.QuestionDragAndDrop:
		if err := json.Unmarshal(raw, &answer.Pairs); err != nil {
			return Answer{}, domain.Wrap(domain.CodeValidation, "drag-and-drop answer must be a list of pairs", err)
		}
		return answer, nil
	default:
		return Answer{}, domain.ErrUnsupportedQuestionType
	}
}

// Score applies the rule for question.Type. The answer's tag must match the
// question's type.
func Score(question domain.Question, answer Answer) (Result, error) {
	if answer.Type != question.Type {
		return Result{}, domain.NewError(domain.CodeValidation, "answer type %q does not match question type %q", answer.Type, question.Type)
	}
	var correct bool
	switch question.Type {
	case domain.QuestionMultipleChoice, domain.QuestionCheckboxes, domain.QuestionDropdown:
		correct = scoreChoice(question, answer)
	case domain.QuestionFillInBlank:
		correct = scoreFillInBlank(question, answer.Text)
	case domain.QuestionParagraph:
		return Result{}, nil
	case domain.QuestionDragAndDrop:
		correct = scoreDragAndDrop(question, answer.Pairs)
	default:
		return Result{}, domain.ErrUnsupportedQuestionType
	}
	if !correct {
		return Result{Graded: true}, nil
	}
	return Result{Correct: true, Score: question.Value(), Graded: true}, nil
}

// scoreChoice is all-or-nothing: the submitted set must equal the set of
// options flagged correct.
func scoreChoice(question domain.Question, answer Answer) bool {
	want := make(map[string]struct{})
	for _, opt := range question.Options {
		if opt.Correct {
			want[normalize(opt.Text)] = struct{}{}
		}
	}
	if len(want) == 0 {
		return false
	}

	got := make(map[string]struct{})
	if t := normalize(answer.Text); t != "" {
		got[t] = struct{}{}
	}
	for _, c := range answer.Choices {
		if t := normalize(c); t != "" {
			got[t] = struct{}{}
		}
	}
	if len(got) != len(want) {
		return false
	}
	for t := range got {
		if _, ok := want[t]; !ok {
			return false
		}
	}
	return true
}

func scoreFillInBlank(question domain.Question, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	for _, accepted := range question.AcceptedAnswers {
		if strings.EqualFold(strings.TrimSpace(accepted), text) {
			return true
		}
	}
	return false
}

// scoreDragAndDrop requires every configured pair to be present. A partial
// pairing scores zero, as does a draggable dropped into more than one zone.
func scoreDragAndDrop(question domain.Question, submitted []domain.Pair) bool {
	if len(question.Pairs) == 0 {
		return false
	}
	zones := make(map[string]string, len(submitted))
	for _, p := range submitted {
		draggable, zone := normalize(p.Draggable), normalize(p.DropZone)
		if prev, ok := zones[draggable]; ok && prev != zone {
			return false
		}
		zones[draggable] = zone
	}
	for _, p := range question.Pairs {
		if zone, ok := zones[normalize(p.Draggable)]; !ok || zone != normalize(p.DropZone) {
			return false
		}
	}
	return true
}

func normalize(s string) string {
	return strings.TrimSpace(s)
}
