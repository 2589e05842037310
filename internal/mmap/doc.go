// Package mmap provides read-only memory-mapped file access.
//
// The local filesystem blob store maps an object to serve ranged reads
// without staging the whole file through a read buffer:
//
//	m, err := mmap.Open("objects/data.bin")
//	if err != nil { ... }
//	defer m.Close()
//
//	m.Advise(mmap.AccessRandom)
//	page := m.Bytes()[off:end]
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2) with madvise(2) access hints
//   - Windows: CreateFileMapping/MapViewOfFile (advice is a no-op)
//
// Mapping is safe for concurrent readers. Close is idempotent; callers must
// not touch Bytes() after Close returns.
package mmap
