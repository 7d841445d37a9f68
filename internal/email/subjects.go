package email

// DefaultSubject is used for any email type without an entry in subjects.
const DefaultSubject = "Forward Focus Elevation Update"

var subjects = map[string]string{
	"site_usage":        "📚 This Week's Resources & Tools - Forward Focus Elevation",
	"booking_coaching":  "💫 The Collective: Your Community Awaits",
	"weekly_engagement": "🌟 Week in Review + What's Coming",
	"community_call":    "🎙️ Tonight at 6 PM: Weekly Community Call",
}

// SubjectFor maps an email type to its subject line.
func SubjectFor(emailType string) string {
	if s, ok := subjects[emailType]; ok {
		return s
	}
	return DefaultSubject
}
