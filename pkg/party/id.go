// Copyright © 2023 Antalpha
//
// This file is part of Antalpha. The full Antalpha copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package party

import (
	"encoding/binary"
	"io"
	"sort"
	"strconv"
)

// Index is the position a participant was assigned for one session.
// Valid indices start at 1; the zero value addresses every other party (broadcast).
type Index uint16

// Broadcast is the receiver of a message sent to all other participants.
const Broadcast Index = 0

// Valid reports whether i can identify a participant.
func (i Index) Valid() bool {
	return i > 0
}

func (i Index) String() string {
	return strconv.FormatUint(uint64(i), 10)
}

// WriteTo makes Index implement the io.WriterTo interface.
func (i Index) WriteTo(w io.Writer) (int64, error) {
	if !i.Valid() {
		return 0, io.ErrUnexpectedEOF
	}
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], uint16(i))
	n, err := w.Write(buf[:])
	return int64(n), err
}

// Domain implements hash.WriterToWithDomain, and separates this type within hash.Hash.
func (Index) Domain() string {
	return "Index"
}

// IndexSlice is a sorted set of distinct indices.
type IndexSlice []Index

// NewIndexSlice returns a sorted copy of indices with duplicates removed.
func NewIndexSlice(indices []Index) IndexSlice {
	seen := make(map[Index]struct{}, len(indices))
	out := make(IndexSlice, 0, len(indices))
	for _, i := range indices {
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	sort.Sort(out)
	return out
}

// Range returns the indices 1..n.
func Range(n int) IndexSlice {
	out := make(IndexSlice, n)
	for i := range out {
		out[i] = Index(i + 1)
	}
	return out
}

// Contains reports whether all of the given indices are in the slice.
func (s IndexSlice) Contains(indices ...Index) bool {
	for _, i := range indices {
		j := sort.Search(len(s), func(k int) bool { return s[k] >= i })
		if j == len(s) || s[j] != i {
			return false
		}
	}
	return true
}

// Remove returns a copy of s without i.
func (s IndexSlice) Remove(i Index) IndexSlice {
	out := make(IndexSlice, 0, len(s))
	for _, j := range s {
		if j != i {
			out = append(out, j)
		}
	}
	return out
}

// Valid reports whether the slice is sorted, free of duplicates and of the broadcast index.
func (s IndexSlice) Valid() bool {
	for k, i := range s {
		if !i.Valid() {
			return false
		}
		if k > 0 && s[k-1] >= i {
			return false
		}
	}
	return true
}

func (s IndexSlice) Len() int           { return len(s) }
func (s IndexSlice) Less(i, j int) bool { return s[i] < s[j] }
func (s IndexSlice) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
