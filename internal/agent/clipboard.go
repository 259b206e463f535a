package agent

import "github.com/atotto/clipboard"

// SystemClipboard reads and writes the desktop clipboard.
type SystemClipboard struct{}

func (SystemClipboard) ReadText() (string, error) { return clipboard.ReadAll() }

func (SystemClipboard) WriteText(text string) error { return clipboard.WriteAll(text) }

// ClipboardSupported reports whether a clipboard helper was found.
func ClipboardSupported() bool { return !clipboard.Unsupported }
