package proc

import "encoding/binary"

// AuxEntry is one auxv key/value pair. ATNull terminates the vector.
type AuxEntry struct {
	Type  uint64
	Value uint64
}

const ATNull = 0

// buildUserStack lays out argv/envp/auxv at the top of a fixed-size stack
// buffer in System V order: env strings, then arg strings, then a 16-byte
// alignment pad, then the auxv (terminated by AT_NULL), then
// NULL-terminated envp pointers (reverse order), then NULL-terminated
// argv pointers (reverse order), then argc. The returned initial stack
// pointer points at argc.
func buildUserStack(stackSize uint64, stackTop uint64, argv, envp []string, auxv []AuxEntry) (stack []byte, initialSP uint64, err error) {
	stack = make([]byte, stackSize)
	// cursor walks downward from the end of the buffer (high addresses);
	// stackTop corresponds to index len(stack).
	cursor := stackSize

	writeString := func(s string) uint64 {
		b := append([]byte(s), 0)
		cursor -= uint64(len(b))
		copy(stack[cursor:], b)
		return stackTop - (stackSize - cursor)
	}

	envPtrs := make([]uint64, len(envp))
	for i := len(envp) - 1; i >= 0; i-- {
		envPtrs[i] = writeString(envp[i])
	}
	argPtrs := make([]uint64, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		argPtrs[i] = writeString(argv[i])
	}

	// 16-byte alignment pad.
	vaAt := func() uint64 { return stackTop - (stackSize - cursor) }
	for vaAt()%16 != 0 {
		if cursor == 0 {
			return nil, 0, ErrOutOfMemory
		}
		cursor--
	}

	writeAux := func(e AuxEntry) {
		cursor -= 16
		binary.LittleEndian.PutUint64(stack[cursor:cursor+8], e.Type)
		binary.LittleEndian.PutUint64(stack[cursor+8:cursor+16], e.Value)
	}
	writeAux(AuxEntry{Type: ATNull, Value: 0})
	for i := len(auxv) - 1; i >= 0; i-- {
		writeAux(auxv[i])
	}

	writeUint64 := func(v uint64) {
		cursor -= 8
		binary.LittleEndian.PutUint64(stack[cursor:cursor+8], v)
	}

	writeUint64(0) // envp NULL terminator
	for i := len(envPtrs) - 1; i >= 0; i-- {
		writeUint64(envPtrs[i])
	}

	writeUint64(0) // argv NULL terminator
	for i := len(argPtrs) - 1; i >= 0; i-- {
		writeUint64(argPtrs[i])
	}

	writeUint64(uint64(len(argv))) // argc

	if cursor == 0 {
		return nil, 0, ErrOutOfMemory
	}
	initialSP = stackTop - (stackSize - cursor)
	return stack, initialSP, nil
}
