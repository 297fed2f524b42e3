// Copyright 2026 The Keyring Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package trust

// Cursor is a lazy, finite, single-pass sequence.  It follows the
// database rows contract: Next advances and reports whether an item is
// available, Item returns the current item, and Err distinguishes a
// failed iteration from plain exhaustion (Next false, Err nil).
type Cursor[T any] struct {
	next    func() (T, bool, error)
	release func() error
	item    T
	err     error
	done    bool
}

// NewCursor builds a cursor from a producer.  next returns the next
// item, whether one was produced, and any error.  release, if non-nil,
// frees underlying resources and is called on exhaustion, error, or
// Close.
func NewCursor[T any](next func() (T, bool, error), release func() error) *Cursor[T] {
	return &Cursor[T]{next: next, release: release}
}

// CursorFromSlice wraps an in-memory snapshot.
func CursorFromSlice[T any](items []T) *Cursor[T] {
	i := 0
	return NewCursor(func() (T, bool, error) {
		var zero T
		if i >= len(items) {
			return zero, false, nil
		}
		item := items[i]
		i++
		return item, true, nil
	}, nil)
}

// Next advances the cursor.  It returns false on exhaustion or error;
// check Err to tell the two apart.
func (c *Cursor[T]) Next() bool {
	if c.done || c.err != nil {
		return false
	}
	item, ok, err := c.next()
	if err != nil {
		c.err = err
		c.finish()
		return false
	}
	if !ok {
		c.finish()
		return false
	}
	c.item = item
	return true
}

// Item returns the item produced by the last successful Next.
func (c *Cursor[T]) Item() T { return c.item }

// Err returns the error that terminated iteration, if any.
func (c *Cursor[T]) Err() error { return c.err }

// Close releases underlying resources.  Closing an exhausted cursor is
// a no-op.
func (c *Cursor[T]) Close() error {
	if c.done {
		return nil
	}
	return c.finish()
}

func (c *Cursor[T]) finish() error {
	c.done = true
	if c.release == nil {
		return nil
	}
	release := c.release
	c.release = nil
	return release()
}

// Collect drains the cursor into a slice.  Intended for tests and small
// result sets.
func Collect[T any](c *Cursor[T]) ([]T, error) {
	var items []T
	for c.Next() {
		items = append(items, c.Item())
	}
	return items, c.Err()
}
