package shader

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const sampleDocument = `// sample material shader
#[UNIFORMS]
struct Material { tint: vec4<f32> };
@group(1) @binding(0) var<uniform> material: Material;
#[VERTEX]
@vertex fn vs_main() -> @builtin(position) vec4<f32> {
    return vec4<f32>(0.0);
}
  #[FRAGMENT]
@fragment fn fs_main() -> @location(0) vec4<f32> {
    return material.tint;
}
`

func TestParseSections(t *testing.T) {
	doc, err := ParseSections(sampleDocument)
	if err != nil {
		t.Fatalf("ParseSections: %v", err)
	}

	if got := doc.Kinds(); len(got) != 2 || got[0] != StageVertex || got[1] != StageFragment {
		t.Fatalf("Kinds = %v, want [vertex fragment]", got)
	}
	if doc.Shared.Tag != TagUniforms || doc.Shared.MarkerLine != 2 {
		t.Fatalf("Shared = %+v", doc.Shared)
	}

	frag, ok := doc.Stage(StageFragment)
	if !ok {
		t.Fatal("fragment stage missing")
	}
	wantText := doc.Shared.Body + "\n" + frag.Body
	if frag.Text != wantText {
		t.Fatalf("fragment text = %q, want %q", frag.Text, wantText)
	}
	if _, ok := doc.Stage(StageCompute); ok {
		t.Fatal("unexpected compute stage")
	}
	if doc.Mask() != StageVertex.Mask()|StageFragment.Mask() {
		t.Fatalf("Mask = %v", doc.Mask())
	}
}

func TestStageSourceDocumentLine(t *testing.T) {
	doc, err := ParseSections(sampleDocument)
	if err != nil {
		t.Fatalf("ParseSections: %v", err)
	}
	vert, _ := doc.Stage(StageVertex)
	frag, _ := doc.Stage(StageFragment)

	tests := []struct {
		name string
		src  StageSource
		line int
		want int
	}{
		{"shared first line", vert, 1, 3},
		{"shared second line", frag, 2, 4},
		{"vertex body first line", vert, 3, 6},
		{"fragment body second line", frag, 4, 11},
		{"out of range", frag, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.src.DocumentLine(tt.line); got != tt.want {
				t.Fatalf("DocumentLine(%d) = %d, want %d", tt.line, got, tt.want)
			}
		})
	}
}

func TestDocumentLineWithoutShared(t *testing.T) {
	doc, err := ParseSections("#[COMPUTE]\nfn main() {}\n")
	if err != nil {
		t.Fatalf("ParseSections: %v", err)
	}
	comp, _ := doc.Stage(StageCompute)
	if comp.Text != "\nfn main() {}\n" {
		t.Fatalf("Text = %q", comp.Text)
	}
	if got := comp.DocumentLine(1); got != 0 {
		t.Fatalf("synthetic shared line mapped to %d", got)
	}
	if got := comp.DocumentLine(2); got != 2 {
		t.Fatalf("body line mapped to %d, want 2", got)
	}
}

func TestParseSectionsErrors(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		sentinel error
		line     int
	}{
		{"duplicate vertex", "#[VERTEX]\na\n#[FRAGMENT]\nb\n#[VERTEX]\nc", ErrDuplicateSection, 5},
		{"duplicate uniforms", "#[UNIFORMS]\n#[UNIFORMS]\n#[VERTEX]", ErrDuplicateSection, 2},
		{"unknown tag", "#[VERTEX]\n#[PIXEL]\n", ErrUnknownSection, 2},
		{"lower case tag", "#[vertex]\n", ErrUnknownSection, 1},
		{"only uniforms", "#[UNIFORMS]\nstruct A { x: f32 };", ErrEmptyShader, 0},
		{"empty", "", ErrEmptyShader, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSections(tt.source)
			if !errors.Is(err, tt.sentinel) {
				t.Fatalf("error = %v, want %v", err, tt.sentinel)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("error %T is not *ParseError", err)
			}
			if pe.Line != tt.line {
				t.Fatalf("line = %d, want %d", pe.Line, tt.line)
			}
		})
	}
}

func TestParseSectionsPreambleComments(t *testing.T) {
	src := "\n// header\n/* block\n   comment */\n/* one line */\n#[VERTEX]\n// kept\nbody"
	doc, err := ParseSections(src)
	if err != nil {
		t.Fatalf("ParseSections: %v", err)
	}
	vert, _ := doc.Stage(StageVertex)
	if vert.Body != "// kept\nbody" {
		t.Fatalf("Body = %q", vert.Body)
	}
}

func TestParseSectionsKeepsPreamble(t *testing.T) {
	src := "#version 450\n// note\n#[VERTEX]\nvoid main() {}\n"
	doc, err := ParseSections(src)
	if err != nil {
		t.Fatalf("ParseSections: %v", err)
	}
	if doc.Preamble != "#version 450\n// note" {
		t.Fatalf("Preamble = %q", doc.Preamble)
	}
	vert, _ := doc.Stage(StageVertex)
	if strings.Contains(vert.Text, "#version") {
		t.Fatalf("stage text includes preamble: %q", vert.Text)
	}

	again, err := ParseSections(doc.Render())
	if err != nil {
		t.Fatalf("ParseSections(Render()): %v", err)
	}
	if again.Preamble != doc.Preamble {
		t.Fatalf("rendered Preamble = %q, want %q", again.Preamble, doc.Preamble)
	}
	vert2, _ := again.Stage(StageVertex)
	if vert2.Text != vert.Text {
		t.Fatalf("stage text changed: %q != %q", vert2.Text, vert.Text)
	}
}

func TestRenderRoundTrip(t *testing.T) {
	first, err := ParseSections(sampleDocument)
	if err != nil {
		t.Fatalf("ParseSections: %v", err)
	}
	second, err := ParseSections(first.Render())
	if err != nil {
		t.Fatalf("ParseSections(Render()): %v", err)
	}
	if len(first.Stages) != len(second.Stages) {
		t.Fatalf("stage count %d != %d", len(first.Stages), len(second.Stages))
	}
	for i := range first.Stages {
		if first.Stages[i].Text != second.Stages[i].Text {
			t.Fatalf("stage %s text changed:\n%q\n%q", first.Stages[i].Kind, first.Stages[i].Text, second.Stages[i].Text)
		}
		if first.Stages[i].Hash() != second.Stages[i].Hash() {
			t.Fatalf("stage %s hash changed", first.Stages[i].Kind)
		}
	}
}

func TestDocumentHash(t *testing.T) {
	a := NewDocument("a.shader", time.Unix(1, 0), sampleDocument)
	b := NewDocument("b.shader", time.Unix(2, 0), sampleDocument)
	c := NewDocument("a.shader", time.Unix(1, 0), sampleDocument+"\n")

	if a.Hash() != b.Hash() {
		t.Fatal("identical text hashed differently")
	}
	if a.Hash() == c.Hash() {
		t.Fatal("different text hashed equal")
	}
	parsed, err := ParseContentHash(a.Hash().String())
	if err != nil || parsed != a.Hash() {
		t.Fatalf("ParseContentHash round trip failed: %v", err)
	}
	if _, err := ParseContentHash("zz"); err == nil {
		t.Fatal("expected error for invalid hash")
	}
}

func TestStageMask(t *testing.T) {
	m := StageVertex.Mask().With(StageFragment)
	if !m.Has(StageVertex) || !m.Has(StageFragment) || m.Has(StageCompute) {
		t.Fatalf("mask membership wrong: %v", m)
	}
	if m.String() != "vertex|fragment" {
		t.Fatalf("String = %q", m.String())
	}
	parsed, ok := ParseStageMask(m.String())
	if !ok || parsed != m {
		t.Fatalf("ParseStageMask = %v, %v", parsed, ok)
	}
	if _, ok := ParseStageMask("vertex|pixel"); ok {
		t.Fatal("expected unknown stage to fail")
	}
	if TagForStage(StageTessellationEvaluation) != TagTessellationEvaluation {
		t.Fatal("TagForStage mismatch")
	}
}
