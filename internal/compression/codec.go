// Package compression implements the block codec internal/diag uses to
// compress a serialized SPM snapshot before cmd/spmdiag writes it to disk.
package compression

// Codec compresses and decompresses one block of a diagnostic snapshot.
type Codec interface {
	// MethodByte returns the single-byte codec identifier stored in a
	// block's header.
	MethodByte() byte
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte, decompressedSize int) ([]byte, error)
}

// Method byte constants, kept compatible with the ClickHouse block format
// this codec's header layout follows.
const (
	MethodNone byte = 0x02
	MethodLZ4  byte = 0x82
)
