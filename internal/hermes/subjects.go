package hermes

// Presence subjects are presence.<source>.status and presence.<source>.idle.
const (
	subjectPrefix = "presence."

	SubjectAllPresence = subjectPrefix + ">"
)

func StatusSubject(source string) string { return subjectPrefix + source + ".status" }

func IdleSubject(source string) string { return subjectPrefix + source + ".idle" }
