package proc

import "encoding/binary"

// ELF64 constants and header layout for the static loader. Header and
// program-header fields are read explicitly via encoding/binary rather
// than cast over raw bytes.
const (
	elfMagic0 = 0x7f
	elfMagic1 = 'E'
	elfMagic2 = 'L'
	elfMagic3 = 'F'

	elfClass64  = 2
	elfData2LSB = 1
	ehdrSize    = 64
	phdrSize    = 56
)

// Segment types (p_type).
const (
	PTNull    = 0
	PTLoad    = 1
	PTDynamic = 2
	PTInterp  = 3
	PTNote    = 4
	PTPHDR    = 6
	PTTLS     = 7
)

// Segment flags (p_flags).
const (
	PFExec  = 1
	PFWrite = 2
	PFRead  = 4
)

// Object file type (e_type).
const (
	ETExec = 2
	ETDyn  = 3
)

// HostMachine is the only e_machine value SpawnELF accepts; the loader
// handles host-architecture images only.
const HostMachine = 0x3e // EM_X86_64

// PIEBase is the fixed load base used for position-independent (ET_DYN)
// executables.
const PIEBase = 0x0000_0000_0040_0000

// maxSegmentSize bounds a single loadable segment's memory size, so a
// crafted MemSz cannot drive the backing allocation out of range.
const maxSegmentSize = 1 << 31

type elfHeader struct {
	Type    uint16
	Machine uint16
	Entry   uint64
	PhOff   uint64
	PhNum   uint16
}

type programHeader struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	VAddr  uint64
	FileSz uint64
	MemSz  uint64
}

func parseHeader(data []byte) (elfHeader, error) {
	var h elfHeader
	if len(data) < ehdrSize {
		return h, ErrInvalidELF
	}
	if data[0] != elfMagic0 || data[1] != elfMagic1 || data[2] != elfMagic2 || data[3] != elfMagic3 {
		return h, ErrInvalidELF
	}
	if data[4] != elfClass64 {
		return h, ErrInvalidELF
	}
	if data[5] != elfData2LSB {
		return h, ErrInvalidELF
	}

	h.Type = binary.LittleEndian.Uint16(data[16:18])
	h.Machine = binary.LittleEndian.Uint16(data[18:20])
	h.Entry = binary.LittleEndian.Uint64(data[24:32])
	h.PhOff = binary.LittleEndian.Uint64(data[32:40])
	h.PhNum = binary.LittleEndian.Uint16(data[56:58])

	if h.Machine != HostMachine {
		return h, ErrInvalidELF
	}
	if h.Type != ETExec && h.Type != ETDyn {
		return h, ErrInvalidELF
	}
	return h, nil
}

func parseProgramHeaders(data []byte, h elfHeader) ([]programHeader, error) {
	size := uint64(len(data))
	if h.PhOff > size || uint64(h.PhNum)*phdrSize > size-h.PhOff {
		return nil, ErrInvalidELF
	}

	phdrs := make([]programHeader, 0, h.PhNum)
	for i := uint16(0); i < h.PhNum; i++ {
		off := h.PhOff + uint64(i)*phdrSize
		raw := data[off : off+phdrSize]
		ph := programHeader{
			Type:   binary.LittleEndian.Uint32(raw[0:4]),
			Flags:  binary.LittleEndian.Uint32(raw[4:8]),
			Offset: binary.LittleEndian.Uint64(raw[8:16]),
			VAddr:  binary.LittleEndian.Uint64(raw[16:24]),
			FileSz: binary.LittleEndian.Uint64(raw[32:40]),
			MemSz:  binary.LittleEndian.Uint64(raw[40:48]),
		}
		phdrs = append(phdrs, ph)
	}
	return phdrs, nil
}

func protOf(flags uint32) Prot {
	var p Prot
	if flags&PFRead != 0 {
		p |= ProtRead
	}
	if flags&PFWrite != 0 {
		p |= ProtWrite
	}
	if flags&PFExec != 0 {
		p |= ProtExec
	}
	return p
}

// loadELF validates and maps every PT_LOAD segment of elfBytes into as,
// returning the adjusted entry virtual address. Segments are rejected on
// overlap (via AddressSpace.Map), truncated file ranges, missing loadable
// segments, or an entry point outside any loadable segment for fixed
// (ET_EXEC) executables.
func loadELF(as *AddressSpace, elfBytes []byte) (entry uint64, err error) {
	h, err := parseHeader(elfBytes)
	if err != nil {
		return 0, err
	}
	phdrs, err := parseProgramHeaders(elfBytes, h)
	if err != nil {
		return 0, err
	}

	base := uint64(0)
	if h.Type == ETDyn {
		base = PIEBase
	}

	loaded := 0
	for _, ph := range phdrs {
		if ph.Type != PTLoad {
			continue
		}
		// Both fields come from the image; compare without adding so a
		// crafted Offset near 2^64 cannot wrap past the bounds check.
		if ph.Offset > uint64(len(elfBytes)) || ph.FileSz > uint64(len(elfBytes))-ph.Offset {
			return 0, ErrInvalidELF
		}
		if ph.MemSz < ph.FileSz || ph.MemSz > maxSegmentSize {
			return 0, ErrInvalidELF
		}

		data := make([]byte, ph.MemSz)
		copy(data, elfBytes[ph.Offset:ph.Offset+ph.FileSz])
		// bss: data[ph.FileSz:] stays zero, the Go zero value for []byte.

		region := Region{VA: base + ph.VAddr, Data: data, Prot: protOf(ph.Flags)}
		if err := as.Map(region); err != nil {
			return 0, err
		}
		loaded++
	}
	if loaded == 0 {
		return 0, ErrInvalidELF
	}

	entry = h.Entry
	if h.Type == ETDyn {
		entry += base
	}
	if h.Type == ETExec && !as.Contains(entry) {
		return 0, ErrInvalidELF
	}
	return entry, nil
}
