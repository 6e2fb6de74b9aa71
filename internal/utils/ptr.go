package utils

func Ptr[T any](v T) *T {
	return &v
}

// EqualPtr treats two nils as equal and compares values otherwise
func EqualPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
