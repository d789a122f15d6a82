package model

import (
	"strings"
	"time"
)

// DraftStatus describes the upload workflow lifecycle.
type DraftStatus string

const (
	DraftIdle         DraftStatus = "idle"
	DraftFileSelected DraftStatus = "file_selected"
	DraftUploading    DraftStatus = "uploading"
	DraftParsed       DraftStatus = "parsed"
	DraftSaving       DraftStatus = "saving"
	DraftSaved        DraftStatus = "saved"
	DraftFailed       DraftStatus = "failed"
)

// Stage names the workflow step an error belongs to.
type Stage string

const (
	StageUpload Stage = "upload"
	StageSave   Stage = "save"
)

// Question kinds recognised by the parser.
const (
	KindMultipleChoice = "multiple_choice"
	KindShortAnswer    = "short_answer"
	KindCalculation    = "calculation"
	KindGraph          = "graph"
	KindEssay          = "essay"
)

// NormalizeKind maps a parser question type onto a known kind, falling back
// to short_answer.
func NormalizeKind(kind string) string {
	k := strings.ToLower(strings.TrimSpace(kind))
	k = strings.ReplaceAll(k, "-", "_")
	k = strings.ReplaceAll(k, " ", "_")
	switch k {
	case KindMultipleChoice, KindShortAnswer, KindCalculation, KindGraph, KindEssay:
		return k
	case "mcq", "multiple":
		return KindMultipleChoice
	default:
		return KindShortAnswer
	}
}

// SourceFile is the document selected for upload. Data is kept in memory so
// a retry never requires re-selection.
type SourceFile struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Data        []byte `json:"-"`
}

// ParsedItem is one extracted question. ID doubles as the idempotency key
// when the item is written as a child record.
type ParsedItem struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	Kind          string   `json:"kind"`
	PointValue    int      `json:"pointValue"`
	Section       string   `json:"section,omitempty"`
	Options       []string `json:"options,omitempty"`
	CorrectAnswer string   `json:"correctAnswer,omitempty"`
	Difficulty    string   `json:"difficulty,omitempty"`
	MarkingNotes  string   `json:"markingNotes,omitempty"`
	Diagrams      []string `json:"diagrams,omitempty"`
}

// ParsedDocument is the parse service response mapped into the client model.
type ParsedDocument struct {
	Meta  PaperMeta    `json:"meta"`
	Items []ParsedItem `json:"items"`
}

// Question is a child record as returned by the persistence API.
type Question struct {
	ID       string `json:"id"`
	PaperID  string `json:"paperId"`
	ClientID string `json:"clientId,omitempty"`
	ParsedItem
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Preflight holds what the client could read from the file locally.
type Preflight struct {
	Pages int       `json:"pages"`
	Meta  PaperMeta `json:"meta"`
}

// SaveSaga tracks the two-step persistence of a draft. PaperID is set once
// the container exists; Saved holds the IDs of children already written.
type SaveSaga struct {
	PaperID string          `json:"paperId,omitempty"`
	Saved   map[string]bool `json:"saved,omitempty"`
}

// Started reports whether the container step has committed.
func (s SaveSaga) Started() bool {
	return s.PaperID != ""
}

// ErrorInfo is the user-facing description of the last failure.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Stage   Stage  `json:"stage,omitempty"`
	Step    string `json:"step,omitempty"`
}

// UploadDraft is the state owned by the workflow controller.
type UploadDraft struct {
	Status    DraftStatus  `json:"status"`
	Source    *SourceFile  `json:"source,omitempty"`
	Preflight *Preflight   `json:"preflight,omitempty"`
	Meta      PaperMeta    `json:"meta"`
	Items     []ParsedItem `json:"items,omitempty"`
	Saga      SaveSaga     `json:"saga"`
	Error     *ErrorInfo   `json:"error,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate controller state.
func (d UploadDraft) Clone() UploadDraft {
	out := d
	if d.Source != nil {
		src := *d.Source
		out.Source = &src
	}
	if d.Preflight != nil {
		pf := *d.Preflight
		out.Preflight = &pf
	}
	if d.Items != nil {
		out.Items = make([]ParsedItem, len(d.Items))
		for i, item := range d.Items {
			out.Items[i] = item.Clone()
		}
	}
	if d.Saga.Saved != nil {
		out.Saga.Saved = make(map[string]bool, len(d.Saga.Saved))
		for k, v := range d.Saga.Saved {
			out.Saga.Saved[k] = v
		}
	}
	if d.Error != nil {
		e := *d.Error
		out.Error = &e
	}
	return out
}

// Clone returns a copy that shares no slices with p.
func (p ParsedItem) Clone() ParsedItem {
	out := p
	if p.Options != nil {
		out.Options = append([]string(nil), p.Options...)
	}
	if p.Diagrams != nil {
		out.Diagrams = append([]string(nil), p.Diagrams...)
	}
	return out
}
