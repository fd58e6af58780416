// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpi

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"reflect"
	"sync"

	"cogentcore.org/hpc/base/slicesx"
)

// Datatype describes how values of one registered element type are
// laid out on the wire. Values are moved as their native memory
// image, so a Datatype is a name, a size and a stable id.
type Datatype struct {

	// Name is the registration name, which must be the same
	// in all processes.
	Name string

	// ID is derived from Name, so that independently started
	// processes agree on it.
	ID uint32

	// Size is the number of bytes per element.
	Size int

	// Kind is the reflect kind of the element type.
	Kind reflect.Kind

	typ reflect.Type
}

func (dt *Datatype) String() string { return dt.Name }

// Type returns the Go type described by dt.
func (dt *Datatype) Type() reflect.Type { return dt.typ }

var registry = struct {
	sync.RWMutex
	types map[reflect.Type]*Datatype
	ids   map[uint32]*Datatype
}{
	types: map[reflect.Type]*Datatype{},
	ids:   map[uint32]*Datatype{},
}

func init() {
	Register[bool]("bool")
	Register[int8]("int8")
	Register[int16]("int16")
	Register[int32]("int32")
	Register[int64]("int64")
	Register[int]("int")
	Register[uint8]("uint8")
	Register[uint16]("uint16")
	Register[uint32]("uint32")
	Register[uint64]("uint64")
	Register[uint]("uint")
	Register[uintptr]("uintptr")
	Register[float32]("float32")
	Register[float64]("float64")
	Register[complex64]("complex64")
	Register[complex128]("complex128")
}

// Register adds T to the type registry under the given name and returns
// its [Datatype]. T must have a fixed size and contain no pointers:
// numbers, bools, and arrays and structs of those. Registering the same
// type again with the same name returns the existing Datatype.
// Invalid types and name conflicts panic.
func Register[T any](name string) *Datatype {
	typ := reflect.TypeFor[T]()
	if err := checkPlain(typ); err != nil {
		panic(fmt.Sprintf("mpi.Register[%v]: %v", typ, err))
	}
	if typ.Size() == 0 {
		panic(fmt.Sprintf("mpi.Register[%v]: zero-size type", typ))
	}
	registry.Lock()
	defer registry.Unlock()
	if dt, ok := registry.types[typ]; ok {
		if dt.Name != name {
			panic(fmt.Sprintf("mpi.Register[%v]: already registered as %q", typ, dt.Name))
		}
		return dt
	}
	id := crc32.ChecksumIEEE([]byte(name))
	if other, ok := registry.ids[id]; ok {
		panic(fmt.Sprintf("mpi.Register[%v]: name %q is taken by %v", typ, name, other.typ))
	}
	dt := &Datatype{Name: name, ID: id, Size: int(typ.Size()), Kind: typ.Kind(), typ: typ}
	registry.types[typ] = dt
	registry.ids[id] = dt
	return dt
}

// TypeOf returns the [Datatype] registered for T.
func TypeOf[T any]() (*Datatype, bool) {
	registry.RLock()
	defer registry.RUnlock()
	dt, ok := registry.types[reflect.TypeFor[T]()]
	return dt, ok
}

// MustTypeOf returns the [Datatype] registered for T,
// and panics if there is none.
func MustTypeOf[T any]() *Datatype {
	dt, ok := TypeOf[T]()
	if !ok {
		panic(fmt.Sprintf("mpi: type %v is not registered (see mpi.Register)", reflect.TypeFor[T]()))
	}
	return dt
}

// checkPlain returns an error if values of typ cannot be
// moved as a plain memory image.
func checkPlain(typ reflect.Type) error {
	switch typ.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return nil
	case reflect.Array:
		return checkPlain(typ.Elem())
	case reflect.Struct:
		for i := range typ.NumField() {
			if err := checkPlain(typ.Field(i).Type); err != nil {
				return fmt.Errorf("field %s: %w", typ.Field(i).Name, err)
			}
		}
		return nil
	}
	return fmt.Errorf("%v values are not fixed-size plain data", typ.Kind())
}

// headerSize is the size of the payload header:
// the datatype id and the element count.
const headerSize = 8

// encode returns the payload for vals.
func encode[T any](dt *Datatype, vals []T) []byte {
	b := make([]byte, headerSize+len(vals)*dt.Size)
	binary.LittleEndian.PutUint32(b, dt.ID)
	binary.LittleEndian.PutUint32(b[4:], uint32(len(vals)))
	copy(b[headerSize:], slicesx.ToBytes(vals))
	return b
}

// header validates a payload against dt and returns its element count
// and data bytes. A different datatype means the ranks disagree on the
// element type of a collective, which is a programming error: it panics.
func header(dt *Datatype, b []byte, fn string) (int, []byte, error) {
	if len(b) < headerSize {
		return 0, nil, fmt.Errorf("short payload of %d bytes", len(b))
	}
	if id := binary.LittleEndian.Uint32(b); id != dt.ID {
		name := fmt.Sprintf("%#x", id)
		registry.RLock()
		if other, ok := registry.ids[id]; ok {
			name = other.Name
		}
		registry.RUnlock()
		panic(fmt.Sprintf("%s: element type mismatch: received %s, expected %s", fn, name, dt.Name))
	}
	n := int(binary.LittleEndian.Uint32(b[4:]))
	data := b[headerSize:]
	if len(data) != n*dt.Size {
		return 0, nil, fmt.Errorf("payload of %d bytes for %d %s elements", len(data), n, dt.Name)
	}
	return n, data, nil
}

// decodeInto copies the payload b into dst, which must have
// exactly the number of elements in the payload.
func decodeInto[T any](dt *Datatype, b []byte, dst []T, fn string) error {
	n, data, err := header(dt, b, fn)
	if err != nil {
		return err
	}
	if n != len(dst) {
		return fmt.Errorf("%w: received %d elements, expected %d", ErrCount, n, len(dst))
	}
	copy(slicesx.ToBytes(dst), data)
	return nil
}

// decode returns the values in payload b.
func decode[T any](dt *Datatype, b []byte, fn string) ([]T, error) {
	n, data, err := header(dt, b, fn)
	if err != nil {
		return nil, err
	}
	return slicesx.FromBytes[T](data, n), nil
}
