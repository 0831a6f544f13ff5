package vector

// Vector is a dense embedding of fixed dimension D for a collection's
// lifetime (spec.md §3).
type Vector []float32
