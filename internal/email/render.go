package email

import (
	"bytes"
	"fmt"
	"html/template"
	"regexp"
	"strings"
)

// Variables are the per-contact values available to a template body.
type Variables struct {
	FirstName      string
	CTAURL         string
	UnsubscribeURL string
	PreviewText    string
	AppName        string
}

// fallbackFirstName is used when the contact never gave a name.
const fallbackFirstName = "there"

var (
	blockPattern      = regexp.MustCompile(`(?is)<(script|style|head)\b[^>]*>.*?</(script|style|head)\s*>`)
	commentPattern    = regexp.MustCompile(`(?s)<!--.*?-->`)
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)

	// The five entities html/template emits, plus the long apostrophe form.
	entityReplacer = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&#039;", "'",
	)
)

// Render executes a template body against vars and returns the HTML.
func Render(body string, vars Variables) (string, error) {
	tmpl, err := template.New("body").Option("missingkey=error").Parse(body)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	if strings.TrimSpace(vars.FirstName) == "" {
		vars.FirstName = fallbackFirstName
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return buf.String(), nil
}

// Validate checks that body parses and only references known variables.
func Validate(body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("template body is empty")
	}
	_, err := Render(body, Variables{
		FirstName:      "Sample",
		CTAURL:         "https://example.com/cta",
		UnsubscribeURL: "https://example.com/unsubscribe",
		PreviewText:    "preview",
		AppName:        "app",
	})
	return err
}

// ToPlainText derives a plain-text body from HTML. Tags are stripped and the
// standard entities decoded until the text is stable, then whitespace is
// collapsed. ToPlainText(ToPlainText(x)) == ToPlainText(x).
func ToPlainText(html string) string {
	text := html
	for {
		next := blockPattern.ReplaceAllString(text, " ")
		next = commentPattern.ReplaceAllString(next, " ")
		next = tagPattern.ReplaceAllString(next, " ")
		next = entityReplacer.Replace(next)
		if next == text {
			break
		}
		text = next
	}
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
