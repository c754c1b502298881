// Package page describes the page geometry of the simulated user address
// space: page size, address rounding, permission bits and the fixed pages
// at the top of every address space.
package page
