package nativehandle

// Address is an opaque reference to a record allocated outside the Go heap.
// Address 0 is reserved and always means "unbound".
type Address uint32

// Field names a string field of a remote resource information record.
type Field string

const (
	FieldURL      Field = "url"
	FieldMimeType Field = "mime-type"
)

// Fields lists every field a record carries, in layout order.
var Fields = []Field{FieldURL, FieldMimeType}

// ObjectModel is the native library that owns record storage.
// Implementations must be safe for concurrent use.
type ObjectModel interface {
	// AllocateRecord allocates a new record with every field empty.
	AllocateRecord() (Address, error)

	// DestroyRecord frees the record at addr. The address must not be used afterwards.
	DestroyRecord(addr Address) error

	// GetField reads a field of the record at addr.
	GetField(addr Address, field Field) (string, error)

	// SetField writes a field of the record at addr.
	SetField(addr Address, field Field, value string) error
}

// Memory represents a flat byte-addressed native memory
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU32(offset uint32) (uint32, error)
	WriteU32(offset uint32, value uint32) error
}

// MemorySizer provides the current size of native memory in bytes.
type MemorySizer interface {
	Size() uint32
}

// Allocator allocates blocks of native memory
type Allocator interface {
	Alloc(size, align uint32) (uint32, error)
	Free(ptr, size, align uint32)
}
