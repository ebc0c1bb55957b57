package main

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"stitchsentry/internal/store"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func severityCell(severity string, colorize bool) string {
	label := strings.ToUpper(severity)
	if !colorize {
		return label
	}
	switch severity {
	case store.SeverityFail:
		return ansiRed + label + ansiReset
	case store.SeverityWarn:
		return ansiYellow + label + ansiReset
	case store.SeverityPass:
		return ansiGreen + label + ansiReset
	default:
		return label
	}
}

func statusCell(status store.Status, colorize bool) string {
	label := string(status)
	if !colorize {
		return label
	}
	switch status {
	case store.StatusCompleted:
		return ansiGreen + label + ansiReset
	case store.StatusFailed:
		return ansiRed + label + ansiReset
	case store.StatusRunning:
		return ansiYellow + label + ansiReset
	default:
		return label
	}
}

// titleLabel turns a slug such as "left_chest" into "Left Chest".
func titleLabel(slug string) string {
	cleaned := strings.ReplaceAll(strings.TrimSpace(slug), "_", " ")
	if cleaned == "" {
		return ""
	}
	return cases.Title(language.Und).String(cleaned)
}
