// Package debuginfo implements Component C: building a domain.SymbolTable
// from the DWARF debug information and ELF symbol table of a compiled
// target image. Grounded on remotevariables.py's RemoteVariables/Variable,
// which walks the same two structures (an ELF .symtab for addresses, DWARF
// compile-unit children for types) using pyelftools; here debug/dwarf's
// higher-level Type() API already resolves member offsets and bit-field
// placement, so there is no need to hand-walk raw DIE attributes the way
// the Python original does.
package debuginfo

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"os"

	"github.com/Ultimaker/OpenTelepathy/internal/domain"
)

// Load reads path's ELF image and returns a SymbolTable of every global
// object the compiler emitted debug information for. A variable whose type
// this package cannot represent (spec.md's Type model is a deliberately
// small closed set) is skipped rather than failing the whole load, mirroring
// the tolerant per-variable failure behaviour of RemoteVariables.
func Load(path string) (*domain.SymbolTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ef, err := elf.NewFile(f)
	if err != nil {
		return nil, fmt.Errorf("debuginfo: %s: %w", path, err)
	}

	order := domain.LittleEndian
	if ef.Data == elf.ELFDATA2MSB {
		order = domain.BigEndian
	}

	dw, err := ef.DWARF()
	if err != nil {
		return nil, fmt.Errorf("debuginfo: %s: no DWARF info: %w", path, err)
	}

	addrs, err := globalAddresses(ef)
	if err != nil {
		return nil, err
	}
	types, err := globalTypes(dw)
	if err != nil {
		return nil, err
	}

	table := domain.NewSymbolTable()
	conv := &converter{order: order, seen: map[dwarf.Type]*domain.Type{}}
	for name, addr := range addrs {
		dt, ok := types[name]
		if !ok {
			continue
		}
		t, err := conv.convert(dt)
		if err != nil {
			continue
		}
		addLeaves(table, name, addr, t)
	}
	return table, nil
}

// addLeaves registers path->addr as a Symbol, expanding a struct or array
// type into one Symbol per leaf field ("outer.inner.leaf") or element
// ("array[N]") rather than a single opaque Symbol for the whole aggregate,
// per spec.md §4.3's canonical-path requirement. A pointer field stops the
// expansion: the pointee's true instance is only known once the pointer is
// read at runtime, so it is registered as a single StorageIndirect Symbol
// whose Type is the pointee's, letting the variable layer dereference it on
// every access instead of baking in a stale address here.
func addLeaves(table *domain.SymbolTable, path string, addr uint64, t *domain.Type) {
	switch t.Kind {
	case domain.KindRecord:
		for _, f := range t.Fields {
			addLeaves(table, path+"."+f.Name, addr+uint64(f.Offset), f.Type)
		}
	case domain.KindArray:
		elemSize := uint64(t.Elem.Size())
		for i := 0; i < t.Length; i++ {
			addLeaves(table, fmt.Sprintf("%s[%d]", path, i), addr+uint64(i)*elemSize, t.Elem)
		}
	case domain.KindPointer:
		if t.Pointee != nil {
			table.Add(&domain.Symbol{Path: path, Address: addr, Type: t.Pointee, Storage: domain.StorageIndirect})
			return
		}
		table.Add(&domain.Symbol{Path: path, Address: addr, Type: t, Storage: domain.StorageDirect})
	default:
		table.Add(&domain.Symbol{Path: path, Address: addr, Type: t, Storage: domain.StorageDirect})
	}
}

// globalAddresses returns every STT_OBJECT/STB_GLOBAL symbol's address,
// matching RemoteVariables.__loadVariablesFromElf's symtab filter.
func globalAddresses(ef *elf.File) (map[string]uint64, error) {
	syms, err := ef.Symbols()
	if err != nil {
		return nil, fmt.Errorf("debuginfo: reading symbol table: %w", err)
	}
	out := make(map[string]uint64)
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_OBJECT || elf.ST_BIND(s.Info) != elf.STB_GLOBAL {
			continue
		}
		if s.Name == "" {
			continue
		}
		out[s.Name] = s.Value
	}
	return out, nil
}

// globalTypes maps each top-level DW_TAG_variable's name to its DWARF type,
// across every compile unit. A name that recurs in more than one unit keeps
// the last one seen, matching the Python original.
func globalTypes(dw *dwarf.Data) (map[string]dwarf.Type, error) {
	out := make(map[string]dwarf.Type)
	r := dw.Reader()
	for {
		entry, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("debuginfo: reading DWARF: %w", err)
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagCompileUnit {
			continue
		}
		if err := collectCUVariables(dw, r, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// collectCUVariables consumes r until the current compile unit's children
// are exhausted, recording each direct DW_TAG_variable child.
func collectCUVariables(dw *dwarf.Data, r *dwarf.Reader, out map[string]dwarf.Type) error {
	for {
		entry, err := r.Next()
		if err != nil {
			return fmt.Errorf("debuginfo: reading DWARF: %w", err)
		}
		if entry == nil {
			return nil
		}
		if entry.Tag == 0 {
			// End of this compile unit's children.
			return nil
		}
		if entry.Tag == dwarf.TagVariable {
			name, _ := entry.Val(dwarf.AttrName).(string)
			typeOff, ok := entry.Val(dwarf.AttrType).(dwarf.Offset)
			if name != "" && ok {
				if t, err := dw.Type(typeOff); err == nil {
					out[name] = t
				}
			}
		}
		if entry.Children {
			r.SkipChildren()
		}
	}
}
