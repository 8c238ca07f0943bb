package settings

// Persisted settings are obfuscated at rest with a device-unique XOR stream.
// The keystream comes from a small LCG seeded by the device ID, and the file
// starts with a fixed magic header so a foreign or truncated file is
// detected before decoding. A mismatched header is treated exactly like
// corruption: it triggers safe mode, never a plaintext fallback.

var obfuscationMagic = []byte{0xDE, 0xAD, 0xBE, 0xEF}

// xorTransform applies the keyed XOR stream. The transform is symmetric.
func xorTransform(data []byte, seed uint32) []byte {
	state := seed & 0x7FFFFFFF
	out := make([]byte, len(data))
	for i, b := range data {
		state = (state*1103515245 + 12345) & 0x7FFFFFFF
		out[i] = b ^ byte(state)
	}
	return out
}

// seedFromDeviceID folds a device-unique byte string into an LCG seed.
func seedFromDeviceID(id []byte) uint32 {
	var sum uint32
	for _, b := range id {
		sum += uint32(b)
	}
	return sum
}
