package hash

import (
	"encoding/binary"
	"hash/crc32"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// CRC32CBytes returns the big-endian encoding of CRC32C(data), the form S3
// expects in the x-amz-checksum-crc32c header before base64 encoding.
func CRC32CBytes(data []byte) []byte {
	return binary.BigEndian.AppendUint32(nil, CRC32C(data))
}
