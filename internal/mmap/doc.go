// Package mmap obtains memory from the host with mmap(2).
//
// File mappings give zero-copy, read-only access to on-disk objects.
// Anonymous mappings back the physical page arena, keeping frame memory out
// of the Go heap:
//
//	m, err := mmap.MapAnon(npages * page.Size)
//	if err != nil { ... }
//	defer m.Close()
//	frame, _ := m.Slice(i*page.Size, page.Size)
//
// Mapping.Close is idempotent; callers must not touch slices returned by
// Slice after it returns.
package mmap
