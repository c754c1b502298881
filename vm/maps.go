package vm

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// WriteMaps writes the regions to w in /proc/[pid]/maps format.
func (s *Space) WriteMaps(w io.Writer) error {
	var b bytes.Buffer
	for _, r := range s.Regions() {
		b.Write(mapsEntry(r))
	}
	_, err := w.Write(b.Bytes())
	return err
}

func mapsEntry(r Region) []byte {
	shared := "p"
	if r.Mode == MapShared {
		shared = "s"
	}
	perms := r.Prot.String()[:3]

	var b bytes.Buffer
	fmt.Fprintf(&b, "%08x-%08x %s%s %08x 00:00 0 ", uint64(r.Base), uint64(r.End()), perms, shared, r.Offset)
	if name, ok := r.File.(fmt.Stringer); ok {
		// Pad until the 74th character.
		if pad := 73 - b.Len(); pad > 0 {
			b.WriteString(strings.Repeat(" ", pad))
		}
		b.WriteString(name.String())
	}
	b.WriteString("\n")
	return b.Bytes()
}
