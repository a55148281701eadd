package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderMarkdownMixed(t *testing.T) {
	out := RenderMarkdown("**bold** and [link](example.com) and\n- item1\n- item2")

	assert.Contains(t, out, "<strong>bold</strong>")
	assert.Contains(t, out, `<a href="https://example.com" target="_blank" rel="noopener noreferrer">link</a>`)
	assert.Contains(t, out, "<ul><li>item1</li><li>item2</li></ul>")
	assert.Equal(t,
		`<strong>bold</strong> and <a href="https://example.com" target="_blank" rel="noopener noreferrer">link</a> and<ul><li>item1</li><li>item2</li></ul>`,
		out)
}

func TestRenderMarkdownLinks(t *testing.T) {
	tests := map[string]string{
		"[a](https://x.io/p?q=1)": `<a href="https://x.io/p?q=1" target="_blank" rel="noopener noreferrer">a</a>`,
		"[a](http://x.io)":        `<a href="http://x.io" target="_blank" rel="noopener noreferrer">a</a>`,
		"[mail](mailto:a@b.c)":    `<a href="mailto:a@b.c" target="_blank" rel="noopener noreferrer">mail</a>`,
		"[rel](/docs)":            `<a href="/docs" target="_blank" rel="noopener noreferrer">rel</a>`,
		"[www](www.x.io)":         `<a href="https://www.x.io" target="_blank" rel="noopener noreferrer">www</a>`,
	}
	for in, want := range tests {
		assert.Equal(t, want, RenderMarkdown(in), in)
	}
}

func TestRenderMarkdownEmphasis(t *testing.T) {
	assert.Equal(t, "<em>soft</em> and <strong>hard</strong>", RenderMarkdown("*soft* and **hard**"))
	assert.Equal(t, "<strong>alt</strong>", RenderMarkdown("__alt__"))
	assert.Equal(t, "2 * 3 * 4", RenderMarkdown("2 * 3 * 4"))
}

func TestRenderMarkdownNestedLists(t *testing.T) {
	out := RenderMarkdown("Options:\n- one\n  - one.a\n  - one.b\n- two\n* three\nDone")
	assert.Equal(t,
		"Options:<ul><li>one<ul><li>one.a</li><li>one.b</li></ul></li><li>two</li><li>three</li></ul>Done",
		out)
}

func TestRenderMarkdownListItemsKeepEmphasis(t *testing.T) {
	assert.Equal(t, "<ul><li><em>first</em> item</li></ul>", RenderMarkdown("* *first* item"))
}

func TestRenderMarkdownLineBreaks(t *testing.T) {
	assert.Equal(t, "a<br>b", RenderMarkdown("a\nb"))
	assert.Equal(t, "a<br><br>b", RenderMarkdown("a\n\n\n\n\nb"))
	assert.Equal(t, "a<br><br>b", RenderMarkdown("a\r\n\r\nb"))
	assert.Equal(t, "", RenderMarkdown(""))
}

func TestRenderMarkdownEmphasisLeavesHrefsIntact(t *testing.T) {
	assert.Equal(t,
		`<a href="https://example.com/a*b*c" target="_blank" rel="noopener noreferrer">x</a>`,
		RenderMarkdown("[x](example.com/a*b*c)"))
	assert.Equal(t,
		`see <a href="https://x.io/__init__.py" target="_blank" rel="noopener noreferrer">src</a> and <a href="https://x.io/__main__" target="_blank" rel="noopener noreferrer">main</a>`,
		RenderMarkdown("see [src](https://x.io/__init__.py) and [main](https://x.io/__main__)"))
	assert.Equal(t,
		`<ul><li><a href="https://x.io/**/glob" target="_blank" rel="noopener noreferrer">glob</a></li></ul>`,
		RenderMarkdown("- [glob](https://x.io/**/glob)"))
}

func TestRenderMarkdownEmphasisAroundAndInsideLinks(t *testing.T) {
	assert.Equal(t,
		`<strong>read <a href="/docs" target="_blank" rel="noopener noreferrer">the docs</a></strong>`,
		RenderMarkdown("**read [the docs](/docs)**"))
	assert.Equal(t,
		`<a href="/docs" target="_blank" rel="noopener noreferrer"><em>docs</em></a>`,
		RenderMarkdown("[*docs*](/docs)"))
	assert.Equal(t, "a b", RenderMarkdown("a\x00 b"))
}
