//go:build !darwin && !linux

package activeapp

func lookupCommand() (string, []string, bool) {
	return "", nil, false
}
