package wsframe

// # Description
//
// Apply the provided 4 bytes mask in place: byte i of buf is XORed with mask[i%4]. Applying the
// same mask twice gives back the original bytes, so the function both masks outgoing payloads
// and unmasks incoming ones.
func ApplyMask(buf []byte, mask [4]byte) {
	for i := range buf {
		buf[i] ^= mask[i&3]
	}
}
