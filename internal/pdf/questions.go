package pdfutil

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dharsanguruparan/PaperDrop/internal/model"
)

var (
	questionStart = regexp.MustCompile(`(?:^|\s)(\d+)\.\s+`)
	marksPattern  = regexp.MustCompile(`\((\d+)\s*marks?\)`)
)

// Question is one numbered question found in a paper's text.
type Question struct {
	Number int
	Text   string
	Marks  int
	Kind   string
}

// ExtractQuestions splits text on "N. " markers. A "(M marks)" annotation is
// removed from the question text and reported as Marks.
func ExtractQuestions(text string) []Question {
	starts := questionStart.FindAllStringSubmatchIndex(text, -1)
	out := make([]Question, 0, len(starts))
	for i, loc := range starts {
		end := len(text)
		if i+1 < len(starts) {
			end = starts[i+1][0]
		}
		number, _ := strconv.Atoi(text[loc[2]:loc[3]])
		body := strings.TrimSpace(text[loc[1]:end])
		if body == "" {
			continue
		}

		q := Question{Number: number}
		if m := marksPattern.FindStringSubmatch(body); m != nil {
			q.Marks, _ = strconv.Atoi(m[1])
			body = strings.TrimSpace(strings.Replace(body, m[0], "", 1))
		}
		q.Text = strings.Join(strings.Fields(body), " ")
		q.Kind = DetermineKind(q.Text)
		out = append(out, q)
	}
	return out
}

// DetermineKind guesses a question kind from its wording.
func DetermineKind(text string) string {
	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(text, w) {
				return true
			}
		}
		return false
	}
	switch {
	case has("Choose the correct answer", "Circle the correct answer"):
		return model.KindMultipleChoice
	case has("Calculate", "Find the value", "Solve"):
		return model.KindCalculation
	case has("Draw", "Sketch", "Plot", "Graph"):
		return model.KindGraph
	case has("Discuss", "Explain", "Describe", "Write"):
		if len(strings.Fields(text)) > 20 {
			return model.KindEssay
		}
		return model.KindShortAnswer
	default:
		return model.KindShortAnswer
	}
}
