// Package jsonc converts JSON with comments, as used by config files and import maps, to plain JSON.
package jsonc

// Strip blanks out the line comments, the block comments and the trailing commas of the input.
// The output has the length of the input and keeps every line break at its offset, so the errors
// of a JSON decoder point at the original source.
func Strip(src []byte) []byte {
	dst := make([]byte, len(src))
	copy(dst, src)

	inString := false
	lastSignificant := -1
	for i := 0; i < len(dst); i++ {
		c := dst[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
				lastSignificant = i
			}
			continue
		}
		switch {
		case c == '"':
			inString = true
		case c == '/' && i+1 < len(dst) && dst[i+1] == '/':
			for ; i < len(dst) && dst[i] != '\n'; i++ {
				blank(dst, i)
			}
			continue
		case c == '/' && i+1 < len(dst) && dst[i+1] == '*':
			start := i
			i += 2
			for ; i < len(dst) && !(dst[i] == '/' && dst[i-1] == '*' && i-1 > start+1); i++ {
			}
			end := i
			if end >= len(dst) {
				end = len(dst) - 1
			}
			for j := start; j <= end; j++ {
				blank(dst, j)
			}
			continue
		case c == '}' || c == ']':
			if lastSignificant >= 0 && dst[lastSignificant] == ',' {
				dst[lastSignificant] = ' '
			}
		case c <= ' ':
			continue
		}
		lastSignificant = i
	}
	return dst
}

func blank(b []byte, i int) {
	switch b[i] {
	case '\n', '\r', '\t':
	default:
		b[i] = ' '
	}
}
