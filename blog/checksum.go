package blog

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"io"
)

// newChecksumWriter wraps inner so every line written through it is
// prefixed with its own checksum.
func newChecksumWriter(inner io.Writer) *checksumWriter {
	return &checksumWriter{inner: inner}
}

// checksumWriter prepends the CRC32 checksum of each line written to it,
// so logvalidator can detect truncation or corruption of this module's
// own log output after the fact.
type checksumWriter struct {
	inner io.Writer
}

var _ io.Writer = (*checksumWriter)(nil)

// Write prepends LogLineChecksum(in) and a separating space to in, then
// forwards the result to the wrapped writer in one call, matching slog's
// one-Write-per-Handle guarantee so exactly one checksum is computed per
// log line.
func (w *checksumWriter) Write(in []byte) (int, error) {
	var out bytes.Buffer
	out.WriteString(LogLineChecksum(string(in)))
	out.WriteByte(' ')
	out.Write(in)
	n, err := out.WriteTo(w.inner)
	return int(n), err
}

// LogLineChecksum returns a CRC32 checksum of line, base64-encoded for
// use as the leading token of a log line. Exported so logvalidator can
// recompute it over lines it tails and flag any mismatch.
func LogLineChecksum(line string) string {
	crc := crc32.ChecksumIEEE([]byte(line))
	buf := make([]byte, crc32.Size)
	binary.LittleEndian.PutUint32(buf, crc)
	return base64.RawURLEncoding.EncodeToString(buf)
}
