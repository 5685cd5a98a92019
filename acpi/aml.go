package acpi

// A minimal AML walk: rather than implementing the full ACPI Machine
// Language bytecode interpreter (control-flow, method invocation,
// operation regions), this scans a DSDT/SSDT's byte stream for
// top-level NameOp (0x08) declarations and decodes the literal data
// object that follows for the handful of names §4.10 names as needed
// by the kernel core: "_PRT" (PCI interrupt routing), "_S3_"/"_S5_"
// (sleep-state packages), and the embedded-controller/power-button/
// sleep-button objects an ECDT or MADT-adjacent lookup doesn't cover
// directly. This does not execute AML; it only locates and decodes
// already-literal (non-computed) NameOp data, which is how these
// particular objects are near-universally authored by firmware.
//
// Grounded on gopher-os's enumeration style (single linear scan, skip
// malformed regions rather than aborting) generalized from table
// enumeration to byte-level AML scanning, since nothing in the pack
// implements an AML parser.

const (
	amlNameOp       = 0x08
	amlBytePrefix   = 0x0A
	amlWordPrefix   = 0x0B
	amlDWordPrefix  = 0x0C
	amlStringPrefix = 0x0D
	amlQWordPrefix  = 0x0E
	amlPackageOp    = 0x12
	amlZeroOp       = 0x00
	amlOneOp        = 0x01
	amlOnesOp       = 0xFF
)

// NamedObject is one decoded top-level named object found during the
// AML walk.
type NamedObject struct {
	Name string

	// IsPackage indicates Elements holds a Package's decoded literal
	// elements (each itself either an integer or nested package,
	// flattened here to just the integers this kernel's consumers need
	// — _PRT entries' address/pin/source/source-index, _S3_/_S5_'s
	// sleep-type values).
	IsPackage bool
	Elements  []uint64

	// Integer holds the decoded value when IsPackage is false.
	Integer uint64
}

// WalkNames scans dsdt (a DSDT or SSDT table's raw bytes, header
// included) for top-level NameOp declarations whose 4-character name
// matches one of wanted, returning whatever subset it could decode.
func WalkNames(dsdt []byte, wanted []string) map[string]NamedObject {
	out := make(map[string]NamedObject)
	if len(dsdt) <= sdtHeaderLen {
		return out
	}
	body := dsdt[sdtHeaderLen:]

	for i := 0; i+5 <= len(body); i++ {
		if body[i] != amlNameOp {
			continue
		}
		name, nameLen, ok := decodeNameString(body[i+1:])
		if !ok {
			continue
		}
		if !contains(wanted, name) {
			i += nameLen
			continue
		}
		obj, consumed, ok := decodeDataObject(body[i+1+nameLen:])
		if !ok {
			continue
		}
		obj.Name = name
		out[name] = obj
		i += nameLen + consumed
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// decodeNameString decodes AML's simplest NameString form: an
// unprefixed 4-character NameSeg (AML also allows DualNamePrefix,
// MultiNamePrefix, and RootChar/ParentPrefix-qualified paths, which
// this minimal walk does not decode — named objects using those
// forms are simply not found).
func decodeNameString(b []byte) (name string, length int, ok bool) {
	if len(b) < 4 {
		return "", 0, false
	}
	for _, c := range b[:4] {
		if !isNameChar(c) {
			return "", 0, false
		}
	}
	return string(b[:4]), 4, true
}

func isNameChar(c byte) bool {
	return c == '_' || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// decodeDataObject decodes the literal constant or Package expected
// to follow a NameOp for the objects this walk targets.
func decodeDataObject(b []byte) (NamedObject, int, bool) {
	if len(b) < 1 {
		return NamedObject{}, 0, false
	}
	switch b[0] {
	case amlZeroOp:
		return NamedObject{Integer: 0}, 1, true
	case amlOneOp:
		return NamedObject{Integer: 1}, 1, true
	case amlOnesOp:
		return NamedObject{Integer: ^uint64(0)}, 1, true
	case amlBytePrefix:
		if len(b) < 2 {
			return NamedObject{}, 0, false
		}
		return NamedObject{Integer: uint64(b[1])}, 2, true
	case amlWordPrefix:
		if len(b) < 3 {
			return NamedObject{}, 0, false
		}
		return NamedObject{Integer: uint64(b[1]) | uint64(b[2])<<8}, 3, true
	case amlDWordPrefix:
		if len(b) < 5 {
			return NamedObject{}, 0, false
		}
		v := uint64(0)
		for i := 0; i < 4; i++ {
			v |= uint64(b[1+i]) << (8 * i)
		}
		return NamedObject{Integer: v}, 5, true
	case amlQWordPrefix:
		if len(b) < 9 {
			return NamedObject{}, 0, false
		}
		v := uint64(0)
		for i := 0; i < 8; i++ {
			v |= uint64(b[1+i]) << (8 * i)
		}
		return NamedObject{Integer: v}, 9, true
	case amlPackageOp:
		return decodePackage(b)
	default:
		return NamedObject{}, 0, false
	}
}

// decodePackage decodes a PackageOp's element list as a flat list of
// integers, flattening nested packages in place (a _PRT is a Package
// of 4-element Packages; this walk's consumers want the inner
// integers grouped in order, not the nesting structure). At the first
// element this minimal walk cannot decode (method references, name
// references, buffers) it stops and keeps the elements decoded before
// it, a best-effort partial decode rather than failing outright; the
// undecodable element and every element after it in that package are
// dropped. Good enough for _PRT/_S3_/_S5_, whose elements are small
// integers in virtually every firmware image.
func decodePackage(b []byte) (NamedObject, int, bool) {
	if len(b) < 2 {
		return NamedObject{}, 0, false
	}
	pkgLen, lenBytes, ok := decodePkgLength(b[1:])
	if !ok {
		return NamedObject{}, 0, false
	}
	totalLen := 1 + pkgLen // PackageOp byte + PkgLength-covered region
	if totalLen > len(b) {
		totalLen = len(b)
	}

	elementsStart := 1 + lenBytes + 1 // + NumElements byte
	elements := make([]uint64, 0, 4)
	for off := elementsStart; off < totalLen; {
		obj, consumed, ok := decodeDataObject(b[off:totalLen])
		if !ok {
			break
		}
		if obj.IsPackage {
			elements = append(elements, obj.Elements...)
		} else {
			elements = append(elements, obj.Integer)
		}
		off += consumed
	}
	return NamedObject{IsPackage: true, Elements: elements}, totalLen, true
}

// decodePkgLength decodes AML's variable-length PkgLength encoding:
// the top two bits of the first byte give the number of additional
// length bytes (0-3); the low 4 or 6 bits (depending on that count)
// hold the start of the length value.
func decodePkgLength(b []byte) (pkgLen int, lenBytes int, ok bool) {
	if len(b) < 1 {
		return 0, 0, false
	}
	extra := int(b[0] >> 6)
	if extra == 0 {
		return int(b[0] & 0x3F), 1, true
	}
	if len(b) < 1+extra {
		return 0, 0, false
	}
	v := int(b[0] & 0x0F)
	for i := 0; i < extra; i++ {
		v |= int(b[1+i]) << (4 + 8*i)
	}
	return v, 1 + extra, true
}
