package wim

import "errors"

// Error kinds surfaced by the capture engine and the metadata resource
// codec. Callers classify failures with errors.Is; the wrapped message
// carries the offending path (capture) or byte offset (decode).
var (
	ErrNTFS                    = errors.New("NTFS volume error")
	ErrInvalidReparseData      = errors.New("Invalid reparse data")
	ErrInvalidMetadataResource = errors.New("Invalid metadata resource")
	ErrUnsupportedFile         = errors.New("Unsupported file")
	ErrRead                    = errors.New("Read error")
	ErrUnexpectedEndOfFile     = errors.New("Unexpected end of file")
	ErrDecompression           = errors.New("Decompression error")
	ErrInvalidParam            = errors.New("Invalid parameter")
)
