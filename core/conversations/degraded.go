package conversations

import (
	"strings"
	"time"
)

// DegradedResponse computes a local answer used when dependent services are
// unavailable. It is a pure function of the user utterance and the clock:
// no network call is made or needed.
func DegradedResponse(userText string, now time.Time) string {
	text := strings.ToLower(userText)

	switch {
	case containsAny(text, "hello", "hi", "hey"):
		return "Hello! Some of my services aren't available right now, but I'm still here."
	case strings.Contains(text, "time"):
		return "The current time is " + now.Format("3:04 PM") + "."
	case strings.Contains(text, "date"):
		return "Today is " + now.Format("Monday, January 2, 2006") + "."
	case containsAny(text, "help", "what can you do"):
		return "I can help with basic tasks, but some services are currently unavailable. " +
			"Try asking for the time, date, or basic information."
	case containsAny(text, "status", "system", "info"):
		return "System monitoring is currently unavailable, but I'm still here to help with basic questions."
	default:
		return "I'm sorry, but some of my services are currently unavailable. " +
			"I can still help with basic questions about time, date, or general assistance."
	}
}

func containsAny(text string, words ...string) bool {
	for _, word := range words {
		if strings.Contains(text, word) {
			return true
		}
	}
	return false
}
