package pdfutil

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/dharsanguruparan/PaperDrop/internal/model"
)

var totalMarksPattern = regexp.MustCompile(`(?i)total\s+marks\s*[—–-]\s*(\d+)`)

// Inspect reads what the client can learn from a paper locally: its page
// count, the dashed "Total marks" line on the first page and the metadata
// encoded in the file name.
func Inspect(name string, data []byte) (*model.Preflight, error) {
	doc, err := open(data)
	if err != nil {
		return nil, err
	}
	pf := &model.Preflight{
		Pages: doc.NumPage(),
		Meta:  MetaFromFilename(name),
	}
	if pf.Pages > 0 {
		if first, err := pageText(doc, 1); err == nil {
			pf.Meta.TotalMarks = TotalMarks(first)
		}
	}
	return pf, nil
}

// TotalMarks returns N from the first "Total marks" line of text where a dash
// separates the label from N, or 0.
func TotalMarks(text string) int {
	m := totalMarksPattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// MetaFromFilename decodes names like 2019-nat5-mathematics-paper1.pdf. The
// leading year and the trailing paper type are required; the subject is taken
// from the third part when it is in the catalogue.
func MetaFromFilename(name string) model.PaperMeta {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	parts := strings.Split(strings.ToLower(stem), "-")
	var meta model.PaperMeta
	if len(parts) < 3 {
		return meta
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil || year < 1900 || year > 2999 {
		return meta
	}
	meta.Year = year
	meta.PaperType = parts[len(parts)-1]
	if len(parts) >= 4 {
		if subject, ok := model.NormalizeSubject(parts[2]); ok {
			meta.Subject = subject
		}
	}
	return meta
}
