package kv

import (
	"github.com/cockroachdb/pebble"
)

type PebbleIterator struct {
	iter *pebble.Iterator
}

func (i *PebbleIterator) First() bool {
	return i.iter.First()
}

func (i *PebbleIterator) SeekGE(key []byte) bool {
	return i.iter.SeekGE(key)
}

func (i *PebbleIterator) Next() bool {
	return i.iter.Next()
}

func (i *PebbleIterator) Valid() bool {
	return i.iter.Valid()
}

func (i *PebbleIterator) Key() []byte {
	return i.iter.Key()
}

func (i *PebbleIterator) Value() []byte {
	return i.iter.Value()
}

func (i *PebbleIterator) Error() error {
	return i.iter.Error()
}

func (i *PebbleIterator) Close() error {
	return i.iter.Close()
}
