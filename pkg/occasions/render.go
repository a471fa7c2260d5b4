package occasions

import (
	"html"
	"io"
	"strconv"
	"strings"

	"github.com/valyala/fasttemplate"
)

// RenderedEmail is a template filled in for one contact and occasion.
type RenderedEmail struct {
	Subject string
	HTML    string
	Text    string
}

// Tokens builds the personalisation values for a greeting. Both the flat
// snake_case names and the dotted contact.* names are supported.
func Tokens(c *Contact, d *ImportantDate) map[string]string {
	tokens := map[string]string{
		"first_name":     c.FirstName,
		"last_name":      c.LastName,
		"full_name":      c.FullName(),
		"email":          c.Email,
		"company_name":   c.Company,
		"designation":    c.Title,
		"occasion_label": d.DisplayLabel(),
		"occasion_type":  string(d.Type),
		"sender_name":    c.OwnerName,
		"sender_email":   c.OwnerEmail,

		"contact.firstName": c.FirstName,
		"contact.lastName":  c.LastName,
		"contact.email":     c.Email,
		"contact.company":   c.Company,
		"contact.title":     c.Title,
	}
	if d.Year != nil {
		tokens["origin_year"] = strconv.Itoa(*d.Year)
	}
	return tokens
}

// Render fills a template. Unknown tokens render as empty strings and
// values are HTML-escaped in the HTML body only.
func Render(t *EmailTemplate, tokens map[string]string) RenderedEmail {
	return RenderedEmail{
		Subject: fill(t.Subject, tokens, false),
		HTML:    fill(t.HTMLBody, tokens, true),
		Text:    fill(t.TextBody, tokens, false),
	}
}

func fill(body string, tokens map[string]string, escape bool) string {
	if body == "" {
		return ""
	}
	return fasttemplate.ExecuteFuncString(body, "{{", "}}", func(w io.Writer, tag string) (int, error) {
		v := tokens[strings.TrimSpace(tag)]
		if escape {
			v = html.EscapeString(v)
		}
		return w.Write([]byte(v))
	})
}
