// Package fs abstracts the host file system behind the disk-image device.
//
// Production code uses fs.Default ([LocalFS]). Tests wrap it in a
// [FaultyFS] to make reads, writes, syncs or closes of selected images fail:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("disk.img", fs.Fault{FailReadsAt: 4096, FailAfterBytes: -1})
//
// The interfaces carry no context.Context: positional reads and writes of a
// local image are not interruptible at the syscall level.
package fs
