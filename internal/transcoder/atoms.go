package transcoder

import (
	"encoding/binary"
	"io"
)

const maxTopLevelAtoms = 64

// MoovBeforeMdat walks the top-level MP4 boxes of r and reports whether the
// moov box precedes the mdat box. It returns nil when neither is reached,
// for example when r only holds the head of a large file.
func MoovBeforeMdat(r io.ReaderAt) *bool {
	var off int64
	hdr := make([]byte, 16)

	for i := 0; i < maxTopLevelAtoms; i++ {
		if n, _ := r.ReadAt(hdr[:8], off); n < 8 {
			return nil
		}
		size := int64(binary.BigEndian.Uint32(hdr[:4]))
		headerLen := int64(8)

		switch string(hdr[4:8]) {
		case "moov":
			return boolPtr(true)
		case "mdat":
			return boolPtr(false)
		}

		switch size {
		case 0:
			// box extends to end of file
			return nil
		case 1:
			if n, _ := r.ReadAt(hdr[8:16], off+8); n < 8 {
				return nil
			}
			size = int64(binary.BigEndian.Uint64(hdr[8:16]))
			headerLen = 16
		}
		if size < headerLen {
			return nil
		}
		off += size
	}
	return nil
}

func boolPtr(v bool) *bool {
	return &v
}
