// Package hash provides the CRC32-Castagnoli (CRC32C) checksums used for
// entity tags and upload integrity checks.
//
// CRC32C is hardware accelerated on x86 (SSE4.2) and ARM (CRC extension) and
// is the checksum S3 accepts for uploads.
//
//	checksum := hash.CRC32C(data)
//	header := hash.CRC32CBase64(data)
package hash
