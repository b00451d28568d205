package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

var noticeTemplate = template.Must(template.ParseFS(templateFS, "templates/notice.html"))

// Field is one labelled row of a notice.
type Field struct {
	Label string
	Value string
}

// NoticeEmail is the content of one manager notice mail.
type NoticeEmail struct {
	Kind    string
	LeadID  string
	Lead    string
	Heading string
	Fields  []Field
	Text    string
}

// Subject picks the mail subject for the notice kind.
func (n NoticeEmail) Subject() string {
	switch n.Kind {
	case "application":
		return fmt.Sprintf(subjectApplicationFmt, n.Lead)
	case "call_agreed":
		return fmt.Sprintf(subjectCallAgreedFmt, n.Lead)
	}
	return fmt.Sprintf(subjectNoticeFmt, n.Lead)
}

func renderNotice(n NoticeEmail) (string, error) {
	var buf bytes.Buffer
	if err := noticeTemplate.Execute(&buf, n); err != nil {
		return "", fmt.Errorf("render notice: %w", err)
	}
	return buf.String(), nil
}
