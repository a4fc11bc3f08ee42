package domain

import "sort"

// QuestionType selects the scoring rule for a question.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple-choice"
	QuestionCheckboxes     QuestionType = "checkboxes"
	QuestionDropdown       QuestionType = "dropdown"
	QuestionFillInBlank    QuestionType = "fill-in-blank"
	QuestionParagraph      QuestionType = "paragraph"
	QuestionDragAndDrop    QuestionType = "drag-and-drop"
)

// Option represents a possible answer for a choice question.
type Option struct {
	ID      string `json:"id,omitempty"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Pair is one (draggable, drop zone) match.
type Pair struct {
	Draggable string `json:"draggable"`
	DropZone  string `json:"dropZone"`
}

// Question is a single quiz question of any supported type.
type Question struct {
	ID              string       `json:"id"`
	Type            QuestionType `json:"type"`
	Prompt          string       `json:"prompt"`
	Options         []Option     `json:"options,omitempty"`
	AcceptedAnswers []string     `json:"acceptedAnswers,omitempty"`
	Pairs           []Pair       `json:"pairs,omitempty"`
	DropZones       []string     `json:"dropZones,omitempty"`
	Points          int          `json:"points"` // defaults to 1 if zero
}

// Value is the score awarded for a correct answer.
func (q Question) Value() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// Public strips answer keys so the question can be sent to participants.
func (q Question) Public() Question {
	out := Question{ID: q.ID, Type: q.Type, Prompt: q.Prompt, Points: q.Value()}
	for _, o := range q.Options {
		out.Options = append(out.Options, Option{ID: o.ID, Text: o.Text})
	}
	zones := make(map[string]struct{}, len(q.Pairs))
	for _, p := range q.Pairs {
		out.Pairs = append(out.Pairs, Pair{Draggable: p.Draggable})
		if _, ok := zones[p.DropZone]; !ok {
			zones[p.DropZone] = struct{}{}
			out.DropZones = append(out.DropZones, p.DropZone)
		}
	}
	sort.Strings(out.DropZones)
	return out
}

// Quiz is a collection of questions.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Question looks up a question by id.
func (q Quiz) Question(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// QuestionIDs returns the ids in authoring order.
func (q Quiz) QuestionIDs() []string {
	ids := make([]string, 0, len(q.Questions))
	for _, question := range q.Questions {
		ids = append(ids, question.ID)
	}
	return ids
}
