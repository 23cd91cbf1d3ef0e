package main

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"

	"github.com/Gaurav-Gosain/jsbridge"
)

var (
	primaryColor = lipgloss.Color("#0EA5E9")
	accentColor  = lipgloss.Color("#10B981")
	errorColor   = lipgloss.Color("#EF4444")
	warningColor = lipgloss.Color("#F59E0B")
	dimColor     = lipgloss.Color("#6B7280")

	logoStyle     = lipgloss.NewStyle().Foreground(primaryColor).Bold(true)
	promptStyle   = lipgloss.NewStyle().Foreground(primaryColor).Bold(true)
	titleStyle    = lipgloss.NewStyle().Foreground(primaryColor).Bold(true).Underline(true)
	errorStyle    = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	errorMsgStyle = lipgloss.NewStyle().Foreground(errorColor)
	locationStyle = lipgloss.NewStyle().Foreground(dimColor).Italic(true)
	successStyle  = lipgloss.NewStyle().Foreground(accentColor)
	warnStyle     = lipgloss.NewStyle().Foreground(warningColor)
	dimStyle      = lipgloss.NewStyle().Foreground(dimColor)
	cmdStyle      = lipgloss.NewStyle().Foreground(warningColor)
	stringStyle   = lipgloss.NewStyle().Foreground(accentColor)
	numberStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6"))
	boolStyle     = lipgloss.NewStyle().Foreground(warningColor)
)

var (
	jsLexer     chroma.Lexer
	chromaStyle *chroma.Style
	formatter   chroma.Formatter
)

func initSyntaxHighlighter() {
	jsLexer = lexers.Get("javascript")
	if jsLexer == nil {
		jsLexer = lexers.Fallback
	}
	jsLexer = chroma.Coalesce(jsLexer)
	chromaStyle = styles.Get("dracula")
	if chromaStyle == nil {
		chromaStyle = styles.Fallback
	}
	formatter = formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}
}

func highlightCode(code string) string {
	if jsLexer == nil {
		return code
	}
	iterator, err := jsLexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf bytes.Buffer
	if err := formatter.Format(&buf, chromaStyle, iterator); err != nil {
		return code
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// formatResult renders v the way the prompt echoes it. Objects and arrays
// print as indented JSON when they have a JSON form.
func formatResult(v jsbridge.Value) string {
	switch {
	case v.IsNull(), v.IsUndefined():
		return dimStyle.Render(v.String())
	case v.IsBool():
		return boolStyle.Render(v.String())
	case v.IsNumber():
		return numberStyle.Render(v.String())
	case v.IsBigInt():
		return numberStyle.Render(v.String() + "n")
	case v.IsString():
		return stringStyle.Render(fmt.Sprintf("%q", v.String()))
	case v.IsFunction():
		return dimStyle.Render("[Function]")
	case v.IsSymbol():
		return dimStyle.Render(v.String())
	}
	if obj, err := v.AsObject(); err == nil {
		if kind := obj.TypedArrayType(); kind != jsbridge.TypedArrayNone {
			n, _ := obj.ByteLength()
			return dimStyle.Render(fmt.Sprintf("%s(%d bytes)", kind, n))
		}
	}
	if text, err := v.ToJSON(2); err == nil {
		return highlightCode(text)
	}
	return v.String()
}

// formatError prints exceptions with the host location that observed them.
func formatError(err error) string {
	if exc, ok := jsbridge.AsException(err); ok {
		msg, _ := exc.Message()
		if msg == "" {
			msg = exc.Error()
		}
		return errorMsgStyle.Render(msg) + "\n" + locationStyle.Render("  at "+exc.Location())
	}
	return errorMsgStyle.Render(err.Error())
}

func timingStyle(d time.Duration) lipgloss.Style {
	switch {
	case d < 10*time.Millisecond:
		return successStyle
	case d < 100*time.Millisecond:
		return warnStyle
	default:
		return errorStyle
	}
}

func formatTiming(d time.Duration) string {
	return timingStyle(d).Render(fmt.Sprintf("⏱  %v", d))
}
