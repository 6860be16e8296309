//go:build !linux

package sdnotify

func Ready() bool    { return false }
func Stopping() bool { return false }

func Status(msg string) bool {
	_ = msg
	return false
}
