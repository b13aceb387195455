package session

// ShouldExtract reports whether a conversation with userCount user messages
// is due for memory extraction: at every multiple of every, up to limit.
func ShouldExtract(userCount, every, limit int) bool {
	if every <= 0 || userCount <= 0 {
		return false
	}
	return userCount%every == 0 && userCount <= limit
}
