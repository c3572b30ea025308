// spirv.go holds the subset of the SPIR-V binary format the reflector understands:
// header validation, instruction decoding and the enumerants needed to recover
// descriptor bindings and interface variables. Values follow the SPIR-V unified
// specification; only the ones reflection acts on are named.
package reflection

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"strings"
)

const (
	spirvMagic        uint32 = 0x07230203
	spirvMagicSwapped uint32 = 0x03022307
	headerWords              = 5
)

// Opcodes.
const (
	opName                   uint16 = 5
	opMemberName             uint16 = 6
	opLine                   uint16 = 8
	opExtInst                uint16 = 12
	opEntryPoint             uint16 = 15
	opExecutionMode          uint16 = 16
	opTypeBool               uint16 = 20
	opTypeInt                uint16 = 21
	opTypeFloat              uint16 = 22
	opTypeVector             uint16 = 23
	opTypeMatrix             uint16 = 24
	opTypeImage              uint16 = 25
	opTypeSampler            uint16 = 26
	opTypeSampledImage       uint16 = 27
	opTypeArray              uint16 = 28
	opTypeRuntimeArray       uint16 = 29
	opTypeStruct             uint16 = 30
	opTypePointer            uint16 = 32
	opConstant               uint16 = 43
	opSpecConstant           uint16 = 50
	opFunction               uint16 = 54
	opFunctionEnd            uint16 = 56
	opFunctionCall           uint16 = 57
	opVariable               uint16 = 59
	opLoad                   uint16 = 61
	opStore                  uint16 = 62
	opCopyMemory             uint16 = 63
	opCopyMemorySized        uint16 = 64
	opDecorate               uint16 = 71
	opMemberDecorate         uint16 = 72
	opVectorShuffle          uint16 = 79
	opCompositeExtract       uint16 = 81
	opCompositeInsert        uint16 = 82
	opImageSampleImplicitLod uint16 = 87
	opImageSampleProjDrefExp uint16 = 94
	opImageFetch             uint16 = 95
	opImageGather            uint16 = 96
	opImageDrefGather        uint16 = 97
	opImageRead              uint16 = 98
	opImageWrite             uint16 = 99
	opLoopMerge              uint16 = 246
	opSelectionMerge         uint16 = 247
	opBranchConditional      uint16 = 250
	opSwitch                 uint16 = 251
	opExecutionModeID        uint16 = 331
	opTypeAccelerationStruct uint16 = 5341
)

// Decorations.
const (
	decorationBlock         uint32 = 2
	decorationBufferBlock   uint32 = 3
	decorationArrayStride   uint32 = 6
	decorationMatrixStride  uint32 = 7
	decorationBuiltIn       uint32 = 11
	decorationNonWritable   uint32 = 24
	decorationNonReadable   uint32 = 25
	decorationLocation      uint32 = 30
	decorationBinding       uint32 = 33
	decorationDescriptorSet uint32 = 34
	decorationOffset        uint32 = 35
)

// Storage classes.
const (
	storageUniformConstant uint32 = 0
	storageInput           uint32 = 1
	storageUniform         uint32 = 2
	storageOutput          uint32 = 3
	storagePushConstant    uint32 = 9
	storageStorageBuffer   uint32 = 12
)

// Execution models.
const (
	modelVertex                 uint32 = 0
	modelTessellationControl    uint32 = 1
	modelTessellationEvaluation uint32 = 2
	modelGeometry               uint32 = 3
	modelFragment               uint32 = 4
	modelGLCompute              uint32 = 5
)

// Execution modes.
const (
	executionModeLocalSize   uint32 = 17
	executionModeLocalSizeID uint32 = 38
)

// instruction is one decoded SPIR-V instruction. operands excludes the opcode word.
type instruction struct {
	opcode   uint16
	operands []uint32
	offset   int
}

// decodeWords validates the header and converts bytes to host-order words, swapping
// big-endian modules.
//
// Parameters:
//   - code: the raw module bytes
//
// Returns:
//   - []uint32: the module words including the header
//   - error: describing why the module is malformed
func decodeWords(code []byte) ([]uint32, error) {
	if len(code)%4 != 0 {
		return nil, fmt.Errorf("module size %d is not a multiple of 4", len(code))
	}
	if len(code) < headerWords*4 {
		return nil, fmt.Errorf("module is %d bytes, shorter than the header", len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	switch words[0] {
	case spirvMagic:
	case spirvMagicSwapped:
		for i := range words {
			words[i] = bits.ReverseBytes32(words[i])
		}
	default:
		return nil, fmt.Errorf("bad magic number 0x%08x", words[0])
	}
	return words, nil
}

// forEachInstruction walks the instruction stream after the header.
//
// Parameters:
//   - words: the module words including the header
//   - fn: called for every instruction; a non-nil error stops the walk
//
// Returns:
//   - error: a malformed-stream error or the first error returned by fn
func forEachInstruction(words []uint32, fn func(inst instruction) error) error {
	for i := headerWords; i < len(words); {
		wordCount := int(words[i] >> 16)
		opcode := uint16(words[i] & 0xffff)
		if wordCount == 0 {
			return fmt.Errorf("instruction at word %d has zero length", i)
		}
		if i+wordCount > len(words) {
			return fmt.Errorf("instruction at word %d (opcode %d) overruns the module", i, opcode)
		}
		if err := fn(instruction{opcode: opcode, operands: words[i+1 : i+wordCount], offset: i}); err != nil {
			return err
		}
		i += wordCount
	}
	return nil
}

// decodeString decodes a nul-terminated literal string packed into words.
//
// Parameters:
//   - words: the operand words starting at the string
//
// Returns:
//   - string: the decoded string
//   - int: the number of words the string occupies
func decodeString(words []uint32) (string, int) {
	var sb strings.Builder
	for i, w := range words {
		for b := 0; b < 4; b++ {
			c := byte(w >> (8 * b))
			if c == 0 {
				return sb.String(), i + 1
			}
			sb.WriteByte(c)
		}
	}
	return sb.String(), len(words)
}

// literalStart returns the operand index from which the remaining operands of an
// in-function instruction are literals rather than ids, or -1 when every operand is an
// id. Operands at or after that index are never treated as variable references.
func literalStart(op uint16) int {
	switch {
	case op >= opImageSampleImplicitLod && op <= opImageSampleProjDrefExp:
		// sample variants with a Dref operand carry the image operand mask one slot later
		switch op {
		case 89, 90, 93, 94:
			return 5
		}
		return 4
	}
	switch op {
	case opLine:
		return 1
	case opExtInst:
		return 3
	case opFunction:
		return 2
	case opVariable:
		return 2
	case opLoad:
		return 3
	case opStore, opCopyMemory:
		return 2
	case opCopyMemorySized:
		return 3
	case opVectorShuffle, opCompositeInsert:
		return 4
	case opCompositeExtract:
		return 3
	case opImageFetch, opImageRead:
		return 4
	case opImageGather, opImageDrefGather:
		return 5
	case opImageWrite:
		return 3
	case opLoopMerge:
		return 2
	case opSelectionMerge:
		return 1
	case opBranchConditional:
		return 3
	}
	return -1
}

// isLiteralOperand reports whether operand index i of op is a literal.
func isLiteralOperand(op uint16, i int) bool {
	if op == opSwitch {
		// selector, default, then (literal, label) pairs
		return i >= 2 && i%2 == 0
	}
	start := literalStart(op)
	if start < 0 {
		return false
	}
	if op == opExtInst {
		// only the instruction number is literal, the operands after it are ids
		return i == start
	}
	return i >= start
}
