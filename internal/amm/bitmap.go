package amm

import (
	"github.com/holiman/uint256"
)

// TickBitmap tracks tick initialization with one 256-bit word per 256
// compressed (spacing-divided) ticks.
type TickBitmap struct {
	words map[int16]*uint256.Int
}

func NewTickBitmap() *TickBitmap {
	return &TickBitmap{words: make(map[int16]*uint256.Int)}
}

func bitmapPosition(compressed int) (wordPos int16, bitPos uint) {
	wordPos = int16(compressed >> 8)
	bitPos = uint(compressed & 0xff)
	return
}

// FlipTick toggles a tick's initialized bit. The tick must be a multiple of
// the spacing.
func (b *TickBitmap) FlipTick(tick, tickSpacing int) {
	if tick%tickSpacing != 0 {
		panic("FATAL: flipping tick off spacing grid")
	}
	wordPos, bitPos := bitmapPosition(tick / tickSpacing)

	word, ok := b.words[wordPos]
	if !ok {
		word = new(uint256.Int)
		b.words[wordPos] = word
	}
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), bitPos)
	word.Xor(word, mask)
	if word.IsZero() {
		delete(b.words, wordPos)
	}
}

// IsInitialized reports whether the tick's bit is set.
func (b *TickBitmap) IsInitialized(tick, tickSpacing int) bool {
	if tick%tickSpacing != 0 {
		return false
	}
	wordPos, bitPos := bitmapPosition(tick / tickSpacing)
	word, ok := b.words[wordPos]
	if !ok {
		return false
	}
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), bitPos)
	return !new(uint256.Int).And(word, mask).IsZero()
}

// NextInitializedTickWithinOneWord returns the next initialized tick at or
// below (lte) or strictly above (!lte) the given tick, searching no further
// than the containing bitmap word. When the word holds no set bit the word
// boundary tick is returned with initialized=false.
func (b *TickBitmap) NextInitializedTickWithinOneWord(tick, tickSpacing int, lte bool) (int, bool) {
	compressed := tick / tickSpacing
	if tick < 0 && tick%tickSpacing != 0 {
		compressed-- // round toward negative infinity
	}

	if lte {
		wordPos, bitPos := bitmapPosition(compressed)
		// bits at or below bitPos
		mask := new(uint256.Int).Lsh(uint256.NewInt(1), bitPos)
		mask.Or(mask, new(uint256.Int).SubUint64(mask, 1))

		if word, ok := b.words[wordPos]; ok {
			masked := new(uint256.Int).And(word, mask)
			if !masked.IsZero() {
				msb := masked.BitLen() - 1
				return (compressed - int(bitPos) + msb) * tickSpacing, true
			}
		}
		return (compressed - int(bitPos)) * tickSpacing, false
	}

	compressed++
	wordPos, bitPos := bitmapPosition(compressed)
	// bits at or above bitPos
	low := new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), bitPos), 1)
	mask := new(uint256.Int).Not(low)

	if word, ok := b.words[wordPos]; ok {
		masked := new(uint256.Int).And(word, mask)
		if !masked.IsZero() {
			lsb := lowestSetBit(masked)
			return (compressed + lsb - int(bitPos)) * tickSpacing, true
		}
	}
	return (compressed + 255 - int(bitPos)) * tickSpacing, false
}

func lowestSetBit(v *uint256.Int) int {
	isolated := new(uint256.Int).And(v, new(uint256.Int).Neg(v))
	return isolated.BitLen() - 1
}
