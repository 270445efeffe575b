package tokenizer

import "strings"

// byteToRune is the GPT-2 byte-level table: printable bytes map to
// themselves, the rest are shifted above U+0100 so every byte has a visible
// symbol in the vocabulary.
var byteToRune [256]rune

func init() {
	n := 0
	for b := 0; b < 256; b++ {
		switch {
		case b >= '!' && b <= '~', b >= 0xa1 && b <= 0xac, b >= 0xae && b <= 0xff:
			byteToRune[b] = rune(b)
		default:
			byteToRune[b] = rune(256 + n)
			n++
		}
	}
}

func encodeBytes(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) * 2)
	for i := 0; i < len(s); i++ {
		sb.WriteRune(byteToRune[s[i]])
	}
	return sb.String()
}
