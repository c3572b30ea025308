// section_parser.go splits a shader document into its sections. A section starts at a
// marker line whose trimmed content is #[TAGNAME] and runs until the next marker or the
// end of the document. The UNIFORMS section holds declarations shared by every stage,
// every other tag names one stage. Section bodies are copied verbatim; the parser never
// interprets the shading language inside them.
package shader

import (
	"regexp"
	"strings"
)

// SectionTag is the TAGNAME of a #[TAGNAME] marker.
type SectionTag string

const (
	// TagUniforms marks the shared declarations block prepended to every stage.
	TagUniforms SectionTag = "UNIFORMS"
	// TagVertex marks the vertex stage body.
	TagVertex SectionTag = "VERTEX"
	// TagFragment marks the fragment stage body.
	TagFragment SectionTag = "FRAGMENT"
	// TagCompute marks the compute stage body.
	TagCompute SectionTag = "COMPUTE"
	// TagGeometry marks the geometry stage body.
	TagGeometry SectionTag = "GEOMETRY"
	// TagTessellationControl marks the tessellation control stage body.
	TagTessellationControl SectionTag = "TESSELLATION_CONTROL"
	// TagTessellationEvaluation marks the tessellation evaluation stage body.
	TagTessellationEvaluation SectionTag = "TESSELLATION_EVALUATION"
)

// stageTags maps every stage tag to its StageKind. TagUniforms is deliberately absent.
var stageTags = map[SectionTag]StageKind{
	TagVertex:                 StageVertex,
	TagFragment:               StageFragment,
	TagCompute:                StageCompute,
	TagGeometry:               StageGeometry,
	TagTessellationControl:    StageTessellationControl,
	TagTessellationEvaluation: StageTessellationEvaluation,
}

// markerRegex matches a trimmed marker line and captures the tag.
var markerRegex = regexp.MustCompile(`^#\[([^\[\]]*)\]$`)

// StageKind returns the stage a tag names.
//
// Returns:
//   - StageKind: the stage for the tag
//   - bool: false for TagUniforms and unknown tags
func (t SectionTag) StageKind() (StageKind, bool) {
	k, ok := stageTags[t]
	return k, ok
}

// TagForStage returns the marker tag of a stage kind.
//
// Parameters:
//   - k: the stage kind
//
// Returns:
//   - SectionTag: the tag, or "" for an invalid kind
func TagForStage(k StageKind) SectionTag {
	for tag, kind := range stageTags {
		if kind == k {
			return tag
		}
	}
	return ""
}

// Section is one marker-delimited block of a document.
type Section struct {
	// Tag is the section tag.
	Tag SectionTag
	// Body is the verbatim text between this marker and the next, lines joined with "\n".
	Body string
	// MarkerLine is the 1-based document line of the marker.
	MarkerLine int
}

// StartLine returns the 1-based document line of the first body line.
func (s Section) StartLine() int {
	return s.MarkerLine + 1
}

// StageSource is the effective source of one stage: the shared declarations composed
// with the stage body. It is what the compiler sees and what per-stage hashes cover.
type StageSource struct {
	// Kind is the stage this source compiles to.
	Kind StageKind
	// Body is the stage section text alone.
	Body string
	// Text is the composed source: shared declarations + "\n" + Body.
	Text string

	bodyStartLine   int
	sharedStartLine int
	sharedLines     int
}

// ComposeStage builds a StageSource from shared declarations and a stage section. The
// composition is purely textual so each stage's effective source can be inspected and
// hashed on its own.
//
// Parameters:
//   - kind: the stage kind
//   - shared: the UNIFORMS section, zero value if the document has none
//   - stage: the stage section
//
// Returns:
//   - StageSource: the composed stage source
func ComposeStage(kind StageKind, shared, stage Section) StageSource {
	sharedStart := 0
	if shared.MarkerLine > 0 {
		sharedStart = shared.StartLine()
	}
	return StageSource{
		Kind:            kind,
		Body:            stage.Body,
		Text:            shared.Body + "\n" + stage.Body,
		bodyStartLine:   stage.StartLine(),
		sharedStartLine: sharedStart,
		sharedLines:     strings.Count(shared.Body, "\n") + 1,
	}
}

// Hash returns the content hash of the composed stage text.
func (s StageSource) Hash() ContentHash {
	return HashText(s.Text)
}

// DocumentLine maps a 1-based line of Text back to the line of the original document.
// Lines of the shared block map into the UNIFORMS section. Returns 0 when the line
// falls on the synthetic empty shared line of a document without a UNIFORMS section,
// or when line is out of range.
//
// Parameters:
//   - line: the line reported by a compiler for Text
//
// Returns:
//   - int: the document line, or 0 if it has none
func (s StageSource) DocumentLine(line int) int {
	if line <= 0 {
		return 0
	}
	if line <= s.sharedLines {
		if s.sharedStartLine == 0 {
			return 0
		}
		return s.sharedStartLine + line - 1
	}
	if s.bodyStartLine == 0 {
		return 0
	}
	return s.bodyStartLine + (line - s.sharedLines) - 1
}

// ParsedDocument is the result of splitting a document into sections.
type ParsedDocument struct {
	// Shared is the UNIFORMS section; its Body is empty when the document has none.
	Shared Section
	// Stages holds one composed source per stage section, in document order.
	Stages []StageSource
	// Preamble is the text before the first marker, e.g. a license comment or a
	// #version line. It belongs to no section and is not compiled.
	Preamble string

	sections []Section
}

// Stage looks up the composed source of one stage.
//
// Parameters:
//   - kind: the stage to look up
//
// Returns:
//   - StageSource: the stage source
//   - bool: false if the document has no such stage
func (p *ParsedDocument) Stage(kind StageKind) (StageSource, bool) {
	for _, s := range p.Stages {
		if s.Kind == kind {
			return s, true
		}
	}
	return StageSource{}, false
}

// Kinds returns the stage kinds present, in document order.
func (p *ParsedDocument) Kinds() []StageKind {
	kinds := make([]StageKind, len(p.Stages))
	for i, s := range p.Stages {
		kinds[i] = s.Kind
	}
	return kinds
}

// Mask returns the set of stages present.
func (p *ParsedDocument) Mask() StageMask {
	var m StageMask
	for _, s := range p.Stages {
		m = m.With(s.Kind)
	}
	return m
}

// Render rebuilds a canonical document from the parsed sections. Parsing the rendered
// text yields stage sources with identical Text.
//
// Returns:
//   - string: the canonical document
func (p *ParsedDocument) Render() string {
	parts := make([]string, 0, len(p.sections)*2+1)
	if p.Preamble != "" {
		parts = append(parts, p.Preamble)
	}
	for _, s := range p.sections {
		parts = append(parts, "#["+string(s.Tag)+"]", s.Body)
	}
	return strings.Join(parts, "\n")
}

// ParseSections splits raw document text into its shared block and stage sources.
//
// Parameters:
//   - source: the raw document text
//
// Returns:
//   - *ParsedDocument: the parsed document
//   - error: a *ParseError for duplicate or unknown sections or a document without stages
func ParseSections(source string) (*ParsedDocument, error) {
	lines := strings.Split(source, "\n")

	var sections []Section
	seen := make(map[SectionTag]int)
	current := -1
	bodyStart := 0

	closeCurrent := func(end int) {
		if current >= 0 {
			sections[current].Body = strings.Join(lines[bodyStart:end], "\n")
		}
	}

	for i, line := range lines {
		lineNum := i + 1
		trimmed := strings.TrimSpace(line)

		if m := markerRegex.FindStringSubmatch(trimmed); m != nil {
			tag := SectionTag(m[1])
			if _, isStage := stageTags[tag]; !isStage && tag != TagUniforms {
				return nil, &ParseError{Kind: ParseErrorUnknownSection, Tag: string(tag), Line: lineNum}
			}
			if first, dup := seen[tag]; dup {
				return nil, &ParseError{Kind: ParseErrorDuplicateSection, Tag: string(tag), Line: lineNum, FirstLine: first}
			}
			seen[tag] = lineNum

			closeCurrent(i)
			sections = append(sections, Section{Tag: tag, MarkerLine: lineNum})
			current = len(sections) - 1
			bodyStart = i + 1
			continue
		}
	}
	closeCurrent(len(lines))

	doc := &ParsedDocument{sections: sections}
	if len(sections) > 0 {
		doc.Preamble = strings.Join(lines[:sections[0].MarkerLine-1], "\n")
	}
	var stageSections []Section
	for _, s := range sections {
		if s.Tag == TagUniforms {
			doc.Shared = s
			continue
		}
		stageSections = append(stageSections, s)
	}
	if len(stageSections) == 0 {
		return nil, &ParseError{Kind: ParseErrorEmptyShader}
	}

	doc.Stages = make([]StageSource, 0, len(stageSections))
	for _, s := range stageSections {
		doc.Stages = append(doc.Stages, ComposeStage(stageTags[s.Tag], doc.Shared, s))
	}
	return doc, nil
}
