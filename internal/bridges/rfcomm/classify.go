package rfcomm

import "strings"

// Kind is the classification of a decoded line.
type Kind int

const (
	// KindDiagnostic lines are human-readable device output. Logged, never forwarded.
	KindDiagnostic Kind = iota

	// KindStructured lines look like a JSON object and are published verbatim.
	KindStructured
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindStructured:
		return "structured"
	case KindDiagnostic:
		return "diagnostic"
	default:
		return "unknown"
	}
}

// Classify reports KindStructured when the trimmed line starts with '{' and
// ends with '}'. The content is not parsed: malformed JSON between braces is
// still structured. Everything else, including "", "{" and "}", is diagnostic.
func Classify(line string) Kind {
	t := strings.TrimSpace(line)
	if strings.HasPrefix(t, "{") && strings.HasSuffix(t, "}") && len(t) >= 2 {
		return KindStructured
	}
	return KindDiagnostic
}
