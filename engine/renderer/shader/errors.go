package shader

import "fmt"

// ParseErrorKind classifies a malformed shader document.
type ParseErrorKind int

const (
	// ParseErrorDuplicateSection is raised when a tag appears more than once.
	ParseErrorDuplicateSection ParseErrorKind = iota + 1

	// ParseErrorUnknownSection is raised for a marker whose tag is not recognised.
	ParseErrorUnknownSection

	// ParseErrorEmptyShader is raised when a document has no stage sections.
	ParseErrorEmptyShader
)

func (k ParseErrorKind) String() string {
	switch k {
	case ParseErrorDuplicateSection:
		return "duplicate section"
	case ParseErrorUnknownSection:
		return "unknown section"
	case ParseErrorEmptyShader:
		return "empty shader"
	default:
		return "parse error"
	}
}

// Sentinel errors for errors.Is matching against a *ParseError of the same kind.
var (
	ErrDuplicateSection = &ParseError{Kind: ParseErrorDuplicateSection}
	ErrUnknownSection   = &ParseError{Kind: ParseErrorUnknownSection}
	ErrEmptyShader      = &ParseError{Kind: ParseErrorEmptyShader}
)

// ParseError reports a structural problem in a shader document. It is always fatal to
// the compile attempt of that document.
type ParseError struct {
	// Kind is the class of the error.
	Kind ParseErrorKind
	// Tag is the offending section tag, if any.
	Tag string
	// Line is the 1-based document line of the offending marker or text, 0 if not applicable.
	Line int
	// FirstLine is the line of the first occurrence for duplicate sections.
	FirstLine int
}

func (e *ParseError) Error() string {
	switch {
	case e.Kind == ParseErrorDuplicateSection:
		return fmt.Sprintf("line %d: duplicate section #[%s] (first declared on line %d)", e.Line, e.Tag, e.FirstLine)
	case e.Kind == ParseErrorUnknownSection:
		return fmt.Sprintf("line %d: unknown section #[%s]", e.Line, e.Tag)
	case e.Line > 0:
		return fmt.Sprintf("line %d: %s", e.Line, e.Kind)
	default:
		return e.Kind.String()
	}
}

// Is matches any *ParseError with the same Kind, so callers can use the sentinels above.
func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}
