package reflection

import (
	"fmt"
)

// spvType is a type declaration: its opcode and operands after the result id.
type spvType struct {
	op   uint16
	args []uint32
}

type variable struct {
	id      uint32
	ptrType uint32
	storage uint32
}

type entryPoint struct {
	model    uint32
	function uint32
	name     string
	iface    []uint32
}

type function struct {
	// refs are the ids the body references as operands, excluding literals.
	refs []uint32
	// calls are the functions the body calls.
	calls []uint32
}

// decorationSet maps a decoration to its literal arguments.
type decorationSet map[uint32][]uint32

func (d decorationSet) has(dec uint32) bool {
	_, ok := d[dec]
	return ok
}

func (d decorationSet) value(dec uint32) (uint32, bool) {
	args, ok := d[dec]
	if !ok || len(args) == 0 {
		return 0, false
	}
	return args[0], true
}

// module holds the tables reflection needs, indexed by result id.
type module struct {
	names             map[uint32]string
	memberNames       map[uint32]map[uint32]string
	decorations       map[uint32]decorationSet
	memberDecorations map[uint32]map[uint32]decorationSet
	types             map[uint32]spvType
	constants         map[uint32]uint64
	variables         []variable
	entryPoints       []entryPoint
	localSize         map[uint32][3]uint32
	localSizeIDs      map[uint32][3]uint32
	functions         map[uint32]*function
}

// parseModule builds the module tables from the instruction stream.
//
// Parameters:
//   - words: the module words including the header
//
// Returns:
//   - *module: the parsed tables
//   - error: if the stream is malformed
func parseModule(words []uint32) (*module, error) {
	m := &module{
		names:             make(map[uint32]string),
		memberNames:       make(map[uint32]map[uint32]string),
		decorations:       make(map[uint32]decorationSet),
		memberDecorations: make(map[uint32]map[uint32]decorationSet),
		types:             make(map[uint32]spvType),
		constants:         make(map[uint32]uint64),
		localSize:         make(map[uint32][3]uint32),
		localSizeIDs:      make(map[uint32][3]uint32),
		functions:         make(map[uint32]*function),
	}

	var current *function
	err := forEachInstruction(words, func(inst instruction) error {
		ops := inst.operands
		need := func(n int) error {
			if len(ops) < n {
				return fmt.Errorf("opcode %d at word %d has %d operands, want at least %d", inst.opcode, inst.offset, len(ops), n)
			}
			return nil
		}

		if current != nil {
			switch inst.opcode {
			case opFunctionEnd:
				current = nil
				return nil
			case opFunctionCall:
				if err := need(3); err != nil {
					return err
				}
				current.calls = append(current.calls, ops[2])
			}
			for i, op := range ops {
				if !isLiteralOperand(inst.opcode, i) {
					current.refs = append(current.refs, op)
				}
			}
			return nil
		}

		switch inst.opcode {
		case opName:
			if err := need(2); err != nil {
				return err
			}
			m.names[ops[0]], _ = decodeString(ops[1:])
		case opMemberName:
			if err := need(3); err != nil {
				return err
			}
			if m.memberNames[ops[0]] == nil {
				m.memberNames[ops[0]] = make(map[uint32]string)
			}
			m.memberNames[ops[0]][ops[1]], _ = decodeString(ops[2:])
		case opEntryPoint:
			if err := need(3); err != nil {
				return err
			}
			name, n := decodeString(ops[2:])
			m.entryPoints = append(m.entryPoints, entryPoint{
				model:    ops[0],
				function: ops[1],
				name:     name,
				iface:    append([]uint32(nil), ops[2+n:]...),
			})
		case opExecutionMode, opExecutionModeID:
			if err := need(2); err != nil {
				return err
			}
			mode := ops[1]
			if (mode == executionModeLocalSize || mode == executionModeLocalSizeID) && len(ops) >= 5 {
				size := [3]uint32{ops[2], ops[3], ops[4]}
				if inst.opcode == opExecutionModeID || mode == executionModeLocalSizeID {
					m.localSizeIDs[ops[0]] = size
				} else {
					m.localSize[ops[0]] = size
				}
			}
		case opDecorate:
			if err := need(2); err != nil {
				return err
			}
			if m.decorations[ops[0]] == nil {
				m.decorations[ops[0]] = make(decorationSet)
			}
			m.decorations[ops[0]][ops[1]] = append([]uint32(nil), ops[2:]...)
		case opMemberDecorate:
			if err := need(3); err != nil {
				return err
			}
			members := m.memberDecorations[ops[0]]
			if members == nil {
				members = make(map[uint32]decorationSet)
				m.memberDecorations[ops[0]] = members
			}
			if members[ops[1]] == nil {
				members[ops[1]] = make(decorationSet)
			}
			members[ops[1]][ops[2]] = append([]uint32(nil), ops[3:]...)
		case opTypeBool, opTypeInt, opTypeFloat, opTypeVector, opTypeMatrix, opTypeImage,
			opTypeSampler, opTypeSampledImage, opTypeArray, opTypeRuntimeArray, opTypeStruct,
			opTypePointer, opTypeAccelerationStruct:
			if err := need(1); err != nil {
				return err
			}
			m.types[ops[0]] = spvType{op: inst.opcode, args: append([]uint32(nil), ops[1:]...)}
		case opConstant, opSpecConstant:
			if err := need(3); err != nil {
				return err
			}
			value := uint64(ops[2])
			if len(ops) > 3 {
				value |= uint64(ops[3]) << 32
			}
			m.constants[ops[1]] = value
		case opVariable:
			if err := need(3); err != nil {
				return err
			}
			m.variables = append(m.variables, variable{id: ops[1], ptrType: ops[0], storage: ops[2]})
		case opFunction:
			if err := need(2); err != nil {
				return err
			}
			current = &function{}
			m.functions[ops[1]] = current
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if current != nil {
		return nil, fmt.Errorf("function is missing OpFunctionEnd")
	}
	return m, nil
}

// reachable returns every id referenced by the function and the functions it calls,
// transitively.
//
// Parameters:
//   - root: the entry point function id
//
// Returns:
//   - map[uint32]struct{}: the referenced ids
func (m *module) reachable(root uint32) map[uint32]struct{} {
	refs := make(map[uint32]struct{})
	visited := make(map[uint32]bool)
	stack := []uint32{root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true
		fn, ok := m.functions[id]
		if !ok {
			continue
		}
		for _, r := range fn.refs {
			refs[r] = struct{}{}
		}
		stack = append(stack, fn.calls...)
	}
	return refs
}

// pointee resolves a pointer type to the type it points at.
func (m *module) pointee(ptrType uint32) (uint32, bool) {
	t, ok := m.types[ptrType]
	if !ok || t.op != opTypePointer || len(t.args) < 2 {
		return 0, false
	}
	return t.args[1], true
}

// nameOf returns the debug name of an id, or "".
func (m *module) nameOf(id uint32) string {
	return m.names[id]
}

// arrayLength returns the element count of an OpTypeArray.
func (m *module) arrayLength(t spvType) (uint32, bool) {
	if len(t.args) < 2 {
		return 0, false
	}
	n, ok := m.constants[t.args[1]]
	if !ok {
		return 0, false
	}
	return uint32(n), true
}
