package ppc

// bitfield extraction mirrors the PowerPC manual's MSB-0 bit numbering: bit 0
// is the most significant bit of the 32-bit instruction word. field(raw, a, b)
// returns the inclusive [a,b] bit range as an unsigned value.

func field(raw uint32, a, b int) uint32 {
	n := b - a + 1
	shift := 31 - b
	mask := uint32(1)<<uint(n) - 1
	return (raw >> uint(shift)) & mask
}

func signExtend(v uint32, bits int) int32 {
	shift := 32 - bits
	return int32(v<<uint(shift)) >> uint(shift)
}

func primaryOpcode(raw uint32) uint32 { return field(raw, 0, 5) }
func fieldRT(raw uint32) uint32       { return field(raw, 6, 10) }
func fieldRS(raw uint32) uint32       { return fieldRT(raw) }
func fieldRA(raw uint32) uint32       { return field(raw, 11, 15) }
func fieldRB(raw uint32) uint32       { return field(raw, 16, 20) }
func fieldSIMM(raw uint32) int32      { return signExtend(field(raw, 16, 31), 16) }
func fieldUIMM(raw uint32) uint32     { return field(raw, 16, 31) }
// fieldXO is the 10-bit extended opcode at bits 21-30, used by X/XL/XFX-form
// instructions that have no OE bit (and/or/xor, cmp, bcctr, mtspr, ...).
func fieldXO(raw uint32) uint32 { return field(raw, 21, 30) }

// fieldXO9 is the 9-bit extended opcode at bits 22-30, used by XO-form
// arithmetic instructions (add, addc, adde, subf, ...) where bit 21 is the OE
// flag rather than part of the opcode. Reusing fieldXO for these would shift
// the opcode by 512 whenever OE=1 (the overflow-form encoding), so XO-form
// ops must dispatch on fieldXO9 and read OE separately via fieldOE.
func fieldXO9(raw uint32) uint32 { return field(raw, 22, 30) }

func fieldXO5(raw uint32) uint32      { return field(raw, 26, 30) }
func fieldOE(raw uint32) bool         { return field(raw, 21, 21) != 0 }
func fieldRc(raw uint32) bool         { return field(raw, 31, 31) != 0 }
func fieldAA(raw uint32) bool         { return field(raw, 30, 30) != 0 }
func fieldLK(raw uint32) bool         { return field(raw, 31, 31) != 0 }
func fieldBO(raw uint32) uint32       { return field(raw, 6, 10) }
func fieldBI(raw uint32) uint32       { return field(raw, 11, 15) }
func fieldSPR(raw uint32) uint32      { return (field(raw, 16, 20) << 5) | field(raw, 11, 15) }
func fieldTO(raw uint32) uint32       { return field(raw, 6, 10) }
func fieldVD(raw uint32) uint32       { return fieldRT(raw) }
func fieldVA(raw uint32) uint32       { return fieldRA(raw) }
func fieldVB(raw uint32) uint32       { return fieldRB(raw) }
func fieldVC(raw uint32) uint32       { return field(raw, 21, 25) }
func fieldCRFD(raw uint32) uint32     { return field(raw, 6, 8) }
func fieldL10(raw uint32) bool        { return field(raw, 10, 10) != 0 }

// branchLI sign-extends the 24-bit LI field of a branch-form (I-form)
// instruction, masked to a multiple of 4 bytes as the architecture requires.
func branchLI(raw uint32) int32 {
	return signExtend(field(raw, 6, 29)<<2, 26)
}

// branchBD sign-extends the 14-bit BD field of a B-form (conditional branch)
// instruction.
func branchBD(raw uint32) int32 {
	return signExtend(field(raw, 16, 29)<<2, 16)
}
