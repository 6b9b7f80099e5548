// Package markup renders text for Telegram's MarkdownV2 dialect.
package markup

import "strings"

var markdownV2Escapes = [256]bool{
	'\\': true, '_': true, '*': true, '[': true, ']': true, '(': true,
	')': true, '~': true, '`': true, '>': true, '#': true, '+': true,
	'-': true, '=': true, '|': true, '{': true, '}': true, '.': true,
	'!': true,
}

// Escape escapes every MarkdownV2 reserved character so text renders literally.
func Escape(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 8)
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if markdownV2Escapes[ch] {
			b.WriteByte('\\')
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// Code wraps text in an inline code span. Backticks and backslashes inside
// the span are escaped.
func Code(text string) string {
	r := strings.NewReplacer("\\", "\\\\", "`", "\\`")
	return "`" + r.Replace(text) + "`"
}
