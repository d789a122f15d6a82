package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/PaperDrop/internal/model"
)

// flexInt accepts a JSON number, a numeric string or null. The parse service
// is not consistent about how it encodes marks and years.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("not an integer: %q", s)
		}
		*f = flexInt(n)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

// parseResponse is the body of POST /papers/pdf.
type parseResponse struct {
	Title      string          `json:"title"`
	Subject    string          `json:"subject"`
	Year       flexInt         `json:"year"`
	TotalMarks flexInt         `json:"total_marks"`
	PaperType  string          `json:"paper_type"`
	Questions  []parseQuestion `json:"questions"`
}

type parseQuestion struct {
	ID            string   `json:"id"`
	QuestionText  string   `json:"question_text"`
	QuestionType  string   `json:"question_type"`
	Marks         flexInt  `json:"marks"`
	Difficulty    string   `json:"difficulty_level"`
	Section       string   `json:"section"`
	MarkingScheme string   `json:"marking_scheme"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Diagrams      []string `json:"diagrams"`
}

func (r parseResponse) document() (*model.ParsedDocument, error) {
	if r.Questions == nil {
		return nil, fmt.Errorf("response has no questions field")
	}
	doc := &model.ParsedDocument{
		Meta: model.PaperMeta{
			Title:      strings.TrimSpace(r.Title),
			Subject:    strings.ToLower(strings.TrimSpace(r.Subject)),
			Year:       int(r.Year),
			TotalMarks: int(r.TotalMarks),
			PaperType:  strings.TrimSpace(r.PaperType),
		},
		Items: make([]model.ParsedItem, 0, len(r.Questions)),
	}
	for _, q := range r.Questions {
		id := q.ID
		if id == "" {
			id = uuid.NewString()
		}
		doc.Items = append(doc.Items, model.ParsedItem{
			ID:            id,
			Text:          strings.TrimSpace(q.QuestionText),
			Kind:          model.NormalizeKind(q.QuestionType),
			PointValue:    int(q.Marks),
			Section:       q.Section,
			Options:       q.Options,
			CorrectAnswer: q.CorrectAnswer,
			Difficulty:    q.Difficulty,
			MarkingNotes:  q.MarkingScheme,
			Diagrams:      q.Diagrams,
		})
	}
	return doc, nil
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// CreateQuestionsRequest is the body of POST /questions.
type CreateQuestionsRequest struct {
	PaperID   string            `json:"paperId"`
	Questions []QuestionPayload `json:"questions"`
}

// QuestionPayload is one child record in CreateQuestionsRequest. ClientID is
// the idempotency key.
type QuestionPayload struct {
	ClientID      string   `json:"clientId"`
	QuestionText  string   `json:"questionText"`
	QuestionType  string   `json:"questionType"`
	Marks         int      `json:"marks"`
	Section       string   `json:"section,omitempty"`
	Options       []string `json:"options,omitempty"`
	CorrectAnswer string   `json:"correctAnswer,omitempty"`
	Difficulty    string   `json:"difficulty,omitempty"`
	MarkingScheme string   `json:"markingScheme,omitempty"`
	Diagrams      []string `json:"diagrams,omitempty"`
}

// PayloadFor converts a parsed item into its wire form.
func PayloadFor(item model.ParsedItem) QuestionPayload {
	return QuestionPayload{
		ClientID:      item.ID,
		QuestionText:  item.Text,
		QuestionType:  item.Kind,
		Marks:         item.PointValue,
		Section:       item.Section,
		Options:       item.Options,
		CorrectAnswer: item.CorrectAnswer,
		Difficulty:    item.Difficulty,
		MarkingScheme: item.MarkingNotes,
		Diagrams:      item.Diagrams,
	}
}

// Item converts a wire payload back into a parsed item.
func (q QuestionPayload) Item() model.ParsedItem {
	return model.ParsedItem{
		ID:            q.ClientID,
		Text:          q.QuestionText,
		Kind:          model.NormalizeKind(q.QuestionType),
		PointValue:    q.Marks,
		Section:       q.Section,
		Options:       q.Options,
		CorrectAnswer: q.CorrectAnswer,
		Difficulty:    q.Difficulty,
		MarkingNotes:  q.MarkingScheme,
		Diagrams:      q.Diagrams,
	}
}

// envelope wraps every persistence API response.
type envelope[T any] struct {
	Data *T `json:"data"`
}
