package kcache

import (
	"github.com/hupe1980/kcache/internal/page"
	"github.com/hupe1980/kcache/vm"
)

// Addr is a user virtual address.
type Addr = page.Addr

// Perm is a set of mapping protection bits.
type Perm = page.Perm

// Mode selects whether modified pages are written back on unmap.
type Mode = vm.Mode

const (
	// PageSize is the size of a virtual page.
	PageSize = page.Size

	// ProtRead allows loads.
	ProtRead = page.Read
	// ProtWrite allows stores.
	ProtWrite = page.Write
	// ProtExec allows instruction fetch.
	ProtExec = page.Exec

	// MapShared writes modified pages back to the file.
	MapShared = vm.MapShared
	// MapPrivate discards modified pages.
	MapPrivate = vm.MapPrivate

	// TopOfUserSpace is the exclusive upper bound of mapped regions.
	TopOfUserSpace = page.TopOfUserSpace
)
