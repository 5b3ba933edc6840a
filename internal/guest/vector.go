package guest

// Vector helpers operate on the guest's 16-byte lane layout through
// VectorWord/SetVectorWord, which hide the host-vs-guest lane reversal
// (spec.md §3, §4.2 "vector lane reversal").

// VectorSplatWord implements vspltw: broadcast 32-bit guest lane idx of src
// into all four lanes of the result.
func VectorSplatWord(ctx *Context, src [16]byte, idx uint32) [16]byte {
	word := VectorWord(src, int(idx&3))
	var out [16]byte
	for i := 0; i < 4; i++ {
		SetVectorWord(&out, i, word)
	}
	return out
}

// VectorAddSaturateSigned32 implements vaddsws: add corresponding signed
// 32-bit lanes, saturating to the signed 32-bit range on overflow and
// setting ctx.VSCRSat (the VSCR[SAT] sticky bit) if any lane saturated.
func VectorAddSaturateSigned32(ctx *Context, a, b [16]byte) [16]byte {
	var out [16]byte
	for i := 0; i < 4; i++ {
		av := int64(int32(VectorWord(a, i)))
		bv := int64(int32(VectorWord(b, i)))
		sum := av + bv
		const maxS32 = int64(1<<31 - 1)
		const minS32 = -int64(1 << 31)
		if sum > maxS32 {
			sum = maxS32
			ctx.VSCRSat = true
		} else if sum < minS32 {
			sum = minS32
			ctx.VSCRSat = true
		}
		SetVectorWord(&out, i, uint32(int32(sum)))
	}
	return out
}

// VectorCompareEqualWord implements vcmpequw.: each lane becomes all-ones if
// the corresponding 32-bit lanes of a and b are equal, else all-zeros; cr6
// summarizes whether every lane matched / none matched.
func VectorCompareEqualWord(ctx *Context, a, b [16]byte) [16]byte {
	var out [16]byte
	allEqual := true
	noneEqual := true
	for i := 0; i < 4; i++ {
		eq := VectorWord(a, i) == VectorWord(b, i)
		if eq {
			SetVectorWord(&out, i, 0xFFFFFFFF)
			noneEqual = false
		} else {
			allEqual = false
		}
	}
	var cr6 uint8
	if allEqual {
		cr6 |= 0b1000
	}
	if noneEqual {
		cr6 |= 0b0010
	}
	ctx.CR[6] = cr6
	return out
}
