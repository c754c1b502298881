// Package vm manages the file-backed regions of a process address space.
//
// A Space holds a fixed table of mapped regions placed top-down below the
// top of user space. Pages are populated lazily: Map only records the
// region, and HandleFault allocates a zeroed frame, reads the backing page
// from the file and installs it in the page table. Unmap removes a prefix,
// a suffix or all of a region, writing modified pages of shared mappings
// back to the file first.
//
// Load and Store simulate user memory accesses through the page table,
// faulting pages in on demand and setting the dirty bit on stores.
package vm
