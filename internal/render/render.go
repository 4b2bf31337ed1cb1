// Package render turns model text into safe HTML fragments.
package render

import (
	"html"
	"html/template"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policy   = newPolicy()
	boldRe   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	bulletRe = regexp.MustCompile(`^\s*[-*•]\s+(.*)$`)
	numberRe = regexp.MustCompile(`^\s*\d+[.)]\s+(.*)$`)
)

func newPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "ul", "ol", "li", "strong", "em", "pre", "code")
	return p
}

// HTML renders bullet lists, paragraphs and **bold**. Everything else the
// model wrote is shown as text.
func HTML(text string) template.HTML {
	var b strings.Builder
	var para []string
	list := ""

	flushPara := func() {
		if len(para) > 0 {
			b.WriteString("<p>" + strings.Join(para, "<br>") + "</p>")
			para = nil
		}
	}
	closeList := func() {
		if list != "" {
			b.WriteString("</" + list + ">")
			list = ""
		}
	}
	openList := func(tag string) {
		if list == tag {
			return
		}
		closeList()
		b.WriteString("<" + tag + ">")
		list = tag
	}

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flushPara()
			closeList()
			continue
		}
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			flushPara()
			openList("ul")
			b.WriteString("<li>" + inline(m[1]) + "</li>")
			continue
		}
		if m := numberRe.FindStringSubmatch(line); m != nil {
			flushPara()
			openList("ol")
			b.WriteString("<li>" + inline(m[1]) + "</li>")
			continue
		}
		closeList()
		para = append(para, inline(trimmed))
	}
	flushPara()
	closeList()
	return template.HTML(policy.Sanitize(b.String()))
}

// Preformatted keeps line breaks and spacing as the model returned them.
func Preformatted(text string) template.HTML {
	return template.HTML(policy.Sanitize("<pre>" + html.EscapeString(text) + "</pre>"))
}

func inline(s string) string {
	return boldRe.ReplaceAllString(html.EscapeString(s), "<strong>$1</strong>")
}
