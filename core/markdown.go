package core

import (
	"regexp"
	"strconv"
	"strings"
)

// anchorMark delimits the index of a rendered anchor while the rest of the
// reply is processed.
const anchorMark = "\x00"

var (
	markdownLink    = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	markdownBold    = regexp.MustCompile(`\*\*(.+?)\*\*`)
	markdownBoldAlt = regexp.MustCompile(`__(.+?)__`)
	markdownItalic  = regexp.MustCompile(`\*(\S[^*\n]*?)\*`)
	markdownBullet  = regexp.MustCompile(`^(\s*)[-*•]\s+(.*)$`)
	extraNewlines   = regexp.MustCompile(`\n{3,}`)

	anchorPlaceholder = regexp.MustCompile("\x00[0-9]+\x00")
)

// linkPrefixes mark hrefs that are used as written.
var linkPrefixes = []string{"http://", "https://", "mailto:", "/", "#"}

// RenderMarkdown converts the small markdown subset chat backends emit into
// HTML: links, bold, italic and nested bullet lists, with remaining line
// breaks turned into <br>. It is not idempotent and must run once per reply.
func RenderMarkdown(text string) string {
	if text == "" {
		return ""
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, anchorMark, "")

	// Anchors are parked behind placeholders so emphasis and list rules
	// never rewrite an href.
	var anchors []string
	text = markdownLink.ReplaceAllStringFunc(text, func(match string) string {
		anchors = append(anchors, renderLink(match))
		return anchorMark + strconv.Itoa(len(anchors)-1) + anchorMark
	})
	text = renderEmphasis(text)
	text = renderBlocks(text)

	if len(anchors) == 0 {
		return text
	}
	return anchorPlaceholder.ReplaceAllStringFunc(text, func(match string) string {
		n, err := strconv.Atoi(strings.Trim(match, anchorMark))
		if err != nil || n >= len(anchors) {
			return ""
		}
		return anchors[n]
	})
}

func renderEmphasis(text string) string {
	text = markdownBold.ReplaceAllString(text, "<strong>$1</strong>")
	text = markdownBoldAlt.ReplaceAllString(text, "<strong>$1</strong>")
	return renderItalic(text)
}

func renderLink(match string) string {
	parts := markdownLink.FindStringSubmatch(match)
	label, href := renderEmphasis(parts[1]), parts[2]
	if !hasLinkPrefix(href) {
		href = "https://" + href
	}
	return `<a href="` + href + `" target="_blank" rel="noopener noreferrer">` + label + `</a>`
}

func hasLinkPrefix(href string) bool {
	for _, prefix := range linkPrefixes {
		if strings.HasPrefix(href, prefix) {
			return true
		}
	}
	return false
}

// renderItalic applies the italic rule outside of list markers, so a leading
// "* item" bullet is never read as emphasis.
func renderItalic(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if m := markdownBullet.FindStringSubmatch(line); m != nil {
			marker := line[:len(line)-len(m[2])]
			lines[i] = marker + markdownItalic.ReplaceAllString(m[2], "<em>$1</em>")
			continue
		}
		lines[i] = markdownItalic.ReplaceAllString(line, "<em>$1</em>")
	}
	return strings.Join(lines, "\n")
}

// renderBlocks groups bullet lines into nested <ul> blocks, two spaces of
// indentation per level, and joins the remaining text with <br>.
func renderBlocks(text string) string {
	var out strings.Builder
	var textRun []string
	depth := 0 // number of open <ul>

	flushText := func() {
		if len(textRun) == 0 {
			return
		}
		joined := strings.Join(textRun, "\n")
		joined = extraNewlines.ReplaceAllString(joined, "\n\n")
		joined = strings.Trim(joined, "\n")
		out.WriteString(strings.ReplaceAll(joined, "\n", "<br>"))
		textRun = textRun[:0]
	}
	closeLists := func(to int) {
		for depth > to {
			out.WriteString("</li></ul>")
			depth--
		}
	}

	for _, line := range strings.Split(text, "\n") {
		m := markdownBullet.FindStringSubmatch(line)
		if m == nil {
			if depth > 0 && strings.TrimSpace(line) == "" {
				continue
			}
			closeLists(0)
			textRun = append(textRun, line)
			continue
		}

		flushText()
		level := indentWidth(m[1])/2 + 1
		if level > depth+1 {
			level = depth + 1
		}
		switch {
		case level > depth:
			out.WriteString("<ul><li>")
			depth++
		case level == depth:
			out.WriteString("</li><li>")
		default:
			closeLists(level)
			out.WriteString("</li><li>")
		}
		out.WriteString(strings.TrimSpace(m[2]))
	}
	closeLists(0)
	flushText()

	return out.String()
}

func indentWidth(indent string) int {
	width := 0
	for _, r := range indent {
		if r == '\t' {
			width += 2
		} else {
			width++
		}
	}
	return width
}
