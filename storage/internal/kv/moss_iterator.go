package kv

import (
	"bytes"
	"errors"

	"github.com/couchbase/moss"
)

// MossIterator adapts a moss snapshot iterator to the positioning API used
// by the rest of the storage module.
type MossIterator struct {
	ss    moss.Snapshot
	iter  moss.Iterator
	lower []byte
	upper []byte

	key   []byte
	value []byte
	valid bool
	err   error
}

func (i *MossIterator) start(from []byte) bool {
	if i.iter != nil {
		i.iter.Close()
		i.iter = nil
	}
	if i.lower != nil && (from == nil || bytes.Compare(from, i.lower) < 0) {
		from = i.lower
	}

	iter, err := i.ss.StartIterator(from, i.upper, moss.IteratorOptions{})
	if err != nil {
		i.valid = false
		if !errors.Is(err, moss.ErrIteratorDone) {
			i.err = err
		}
		return false
	}
	i.iter = iter
	return i.load()
}

func (i *MossIterator) load() bool {
	k, v, err := i.iter.Current()
	if err != nil {
		i.valid = false
		if !errors.Is(err, moss.ErrIteratorDone) {
			i.err = err
		}
		return false
	}
	i.key, i.value, i.valid = k, v, true
	return true
}

func (i *MossIterator) First() bool {
	return i.start(nil)
}

func (i *MossIterator) SeekGE(key []byte) bool {
	return i.start(key)
}

func (i *MossIterator) Next() bool {
	if !i.valid || i.iter == nil {
		return false
	}
	if err := i.iter.Next(); err != nil {
		i.valid = false
		if !errors.Is(err, moss.ErrIteratorDone) {
			i.err = err
		}
		return false
	}
	return i.load()
}

func (i *MossIterator) Valid() bool {
	return i.valid
}

func (i *MossIterator) Key() []byte {
	return i.key
}

func (i *MossIterator) Value() []byte {
	return i.value
}

func (i *MossIterator) Error() error {
	return i.err
}

func (i *MossIterator) Close() error {
	var err error
	if i.iter != nil {
		err = i.iter.Close()
		i.iter = nil
	}
	if ssErr := i.ss.Close(); ssErr != nil && err == nil {
		err = ssErr
	}
	return err
}
