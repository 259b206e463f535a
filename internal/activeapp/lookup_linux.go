//go:build linux

package activeapp

func lookupCommand() (string, []string, bool) {
	return "xdotool", []string{"getactivewindow", "getwindowname"}, true
}
