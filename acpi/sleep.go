package acpi

// SleepState is a decoded _Sx_ package: the PM1a/PM1b SLP_TYPx values
// BIOS assigns this sleep state, per §4.10's "S3/S5 transitions."
type SleepState struct {
	PM1aSlpTyp uint64
	PM1bSlpTyp uint64
}

// SleepStates decodes the _S3_ and _S5_ packages out of dsdt (or an
// SSDT carrying them), returning whichever of the two were found.
func SleepStates(dsdt []byte) map[string]SleepState {
	objs := WalkNames(dsdt, []string{"_S3_", "_S5_"})
	out := make(map[string]SleepState)
	for name, obj := range objs {
		if !obj.IsPackage || len(obj.Elements) < 2 {
			continue
		}
		out[name] = SleepState{PM1aSlpTyp: obj.Elements[0], PM1bSlpTyp: obj.Elements[1]}
	}
	return out
}

// PRTEntry is one decoded _PRT (PCI Routing Table) entry: which PCI
// device/pin this entry covers and the interrupt it routes to.
type PRTEntry struct {
	Address     uint64 // device (bits 16-31) / function (bits 0-15), function 0xFFFF means "any"
	Pin         uint64 // 0=INTA, 1=INTB, 2=INTC, 3=INTD
	SourceIndex uint64 // global system interrupt, when no named Source device is used
}

// PRT decodes the _PRT package into its (address, pin, source_index)
// triples. This minimal walk only handles the common "no Source
// device, direct GSI" encoding (a 0 in the Source slot, typically an
// empty NameString, decoded here as a 0 integer by decodeDataObject's
// best-effort fallback) — _PRT entries that reference a named Link
// Device object are skipped, since resolving a device reference
// requires namespace traversal this walk does not implement.
func PRT(dsdt []byte) []PRTEntry {
	objs := WalkNames(dsdt, []string{"_PRT"})
	obj, ok := objs["_PRT"]
	if !ok || !obj.IsPackage {
		return nil
	}
	var entries []PRTEntry
	for i := 0; i+4 <= len(obj.Elements); i += 4 {
		entries = append(entries, PRTEntry{
			Address:     obj.Elements[i],
			Pin:         obj.Elements[i+1],
			SourceIndex: obj.Elements[i+3],
		})
	}
	return entries
}
