// Package zipcrypto implements the two ZIP entry-encryption schemes this
// project supports: traditional PKWARE encryption ("ZipCrypto") and WinZip
// AES (AE-1/AE-2).
package zipcrypto

import "hash/crc32"

// Keys holds the three 32-bit stream-cipher registers used by traditional
// PKWARE encryption, updated one plaintext/keystream byte at a time.
type Keys [3]uint32

var crcTable = crc32.IEEETable

func crc32Update(crc uint32, b byte) uint32 {
	return crcTable[byte(crc)^b] ^ (crc >> 8)
}

// NewKeys initializes the three PKWARE keys from a password, per the
// update-keys routine in APPNOTE 6.1.5.
func NewKeys(password []byte) Keys {
	k := Keys{0x12345678, 0x23456789, 0x34567890}
	for _, b := range password {
		k.update(b)
	}
	return k
}

func (k *Keys) update(b byte) {
	k[0] = crc32Update(k[0], b)
	k[1] = k[1] + (k[0] & 0xff)
	k[1] = k[1]*134775813 + 1
	k[2] = crc32Update(k[2], byte(k[1]>>24))
}

// keystreamByte returns the next keystream byte without consuming it.
func (k *Keys) keystreamByte() byte {
	tmp := uint16(k[2]) | 2
	return byte((uint32(tmp) * (uint32(tmp) ^ 1)) >> 8)
}

// DecryptByte decrypts one ciphertext byte and advances the key schedule.
func (k *Keys) DecryptByte(c byte) byte {
	p := c ^ k.keystreamByte()
	k.update(p)
	return p
}

// EncryptByte encrypts one plaintext byte and advances the key schedule.
func (k *Keys) EncryptByte(p byte) byte {
	c := p ^ k.keystreamByte()
	k.update(p)
	return c
}

// HeaderCheckByte returns the byte that the 12-byte random header's last
// byte must equal: the high byte of the CRC if gpbf bit 3 (data descriptor)
// is clear, otherwise the high byte of the DOS modification time.
func HeaderCheckByte(crc32 uint32, dosTime uint16, hasDataDescriptor bool) byte {
	if hasDataDescriptor {
		return byte(dosTime >> 8)
	}
	return byte(crc32 >> 24)
}
