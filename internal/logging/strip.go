package logging

// StripANSI removes CSI escape sequences (colours, cursor moves) from data.
func StripANSI(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] != 0x1b || i+1 >= len(data) || data[i+1] != '[' {
			out = append(out, data[i])
			continue
		}
		// Skip to the final byte, 0x40-0x7E.
		for i += 2; i < len(data); i++ {
			if data[i] >= 0x40 && data[i] <= 0x7E {
				break
			}
		}
	}
	return out
}
