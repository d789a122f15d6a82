package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	pdfutil "github.com/dharsanguruparan/PaperDrop/internal/pdf"
)

// parseResponse mirrors the parse service body: snake_case keys, marks and
// years as plain numbers.
type parseResponse struct {
	Title      string          `json:"title"`
	Subject    string          `json:"subject,omitempty"`
	Year       int             `json:"year,omitempty"`
	TotalMarks int             `json:"total_marks,omitempty"`
	PaperType  string          `json:"paper_type,omitempty"`
	Questions  []parseQuestion `json:"questions"`
}

type parseQuestion struct {
	QuestionText string `json:"question_text"`
	QuestionType string `json:"question_type"`
	Marks        int    `json:"marks"`
	Section      string `json:"section,omitempty"`
}

var errTooLarge = errors.New("file exceeds limit")

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	// http.MaxBytesReader wraps the Body to protect against oversized payloads.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, "expecting multipart form")
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing file part")
		return
	}
	defer part.Close()

	upload, err := readPart(part, s.cfg.MaxFileSize)
	if errors.Is(err, errTooLarge) {
		respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds limit (%d bytes)", s.cfg.MaxFileSize))
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if upload.contentType != "application/pdf" {
		respondError(w, http.StatusBadRequest, "only PDF files supported")
		return
	}

	text, err := pdfutil.ExtractText(upload.data)
	if err != nil {
		s.logger.Warn("PDF extraction failed", "file", upload.filename, "error", err)
		respondError(w, http.StatusUnprocessableEntity, "could not read the PDF")
		return
	}
	respondJSON(w, http.StatusOK, buildParseResponse(upload.filename, text))
}

func buildParseResponse(filename, text string) parseResponse {
	meta := pdfutil.MetaFromFilename(filename)
	resp := parseResponse{
		Title:      strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)),
		Subject:    meta.Subject,
		Year:       meta.Year,
		TotalMarks: pdfutil.TotalMarks(text),
		PaperType:  meta.PaperType,
		Questions:  []parseQuestion{},
	}
	for _, q := range pdfutil.ExtractQuestions(text) {
		resp.Questions = append(resp.Questions, parseQuestion{
			QuestionText: q.Text,
			QuestionType: q.Kind,
			Marks:        q.Marks,
		})
	}
	return resp
}

type uploadedFile struct {
	data        []byte
	contentType string
	filename    string
}

// readPart buffers a file part up to limit bytes and sniffs its media type.
func readPart(part *multipart.Part, limit int64) (*uploadedFile, error) {
	var data []byte
	// Allocate a 32 KiB buffer reused for every Read call; this keeps each
	// read bounded regardless of upload size.
	buf := make([]byte, 32*1024)
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			if int64(len(data)+n) > limit {
				return nil, errTooLarge
			}
			data = append(data, buf[:n]...)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			var maxErr *http.MaxBytesError
			if errors.As(readErr, &maxErr) {
				return nil, errTooLarge
			}
			return nil, fmt.Errorf("read file: %w", readErr)
		}
	}
	if len(data) == 0 {
		return nil, errors.New("empty file")
	}
	filename := part.FileName()
	if filename == "" {
		filename = "upload.pdf"
	}
	// DetectContentType only looks at the first 512 bytes.
	return &uploadedFile{
		data:        data,
		contentType: http.DetectContentType(data),
		filename:    filename,
	}, nil
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}
