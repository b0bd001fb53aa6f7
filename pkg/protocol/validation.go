package protocol

// IsValidIdentity checks the identity bound: at most MaxIdentityLen
// characters. The empty string is a valid identity.
func IsValidIdentity(identity string) bool {
	return TextLen(identity) <= MaxIdentityLen
}

// IsValidPayload checks the opaque payload bound.
func IsValidPayload(data string) bool {
	return TextLen(data) <= MaxPayloadLen
}

// TextLen counts s in UTF-16 code units, the unit browser and JavaScript
// clients use for string length. Runes outside the BMP count as two.
func TextLen(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}
