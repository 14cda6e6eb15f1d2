package models

import "encoding/json"

// Optional distinguishes a field the caller left out from one the caller set,
// including set to its zero value. Decoding JSON marks the field set only when
// its key is present; an explicit null is "set to empty".
type Optional[T any] struct {
	value T
	set   bool
}

// Some returns a set Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

func (o Optional[T]) Get() (T, bool) { return o.value, o.set }

func (o Optional[T]) IsSet() bool { return o.set }

// IsZero lets encoding/json omit unset fields under `omitzero`.
func (o Optional[T]) IsZero() bool { return !o.set }

// Apply writes the value into dst when set.
func (o Optional[T]) Apply(dst *T) {
	if o.set {
		*dst = o.value
	}
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	var v T
	if string(data) != "null" {
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
	}
	o.value = v
	o.set = true
	return nil
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}
