package optional

// Optional holds a value that may be absent.
// The zero value is an unset Optional.
type Optional[T any] struct {
	value T
	isSet bool
}

// Some creates an Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, isSet: true}
}

// None creates an unset Optional.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// IsSet reports whether a value is present.
func (o Optional[T]) IsSet() bool {
	return o.isSet
}

// Set stores v.
func (o *Optional[T]) Set(v T) {
	o.value = v
	o.isSet = true
}

// Unset clears the value.
func (o *Optional[T]) Unset() {
	var zero T
	o.value = zero
	o.isSet = false
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.isSet
}

// GetOr returns the value, or def when unset.
func (o Optional[T]) GetOr(def T) T {
	if o.isSet {
		return o.value
	}
	return def
}

// Unwrap returns the value and panics when unset.
func (o Optional[T]) Unwrap() T {
	if !o.isSet {
		panic("optional: value is not set")
	}
	return o.value
}
