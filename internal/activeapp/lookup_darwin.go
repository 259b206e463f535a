//go:build darwin

package activeapp

func lookupCommand() (string, []string, bool) {
	return "osascript", []string{
		"-e",
		`tell application "System Events" to get name of (processes where frontmost is true)`,
	}, true
}
