// Copyright 2024 The Erigon Authors
// (original work)
// This file is part of stateversions.
//
// stateversions is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package state

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// CodecMismatch is returned when a State or StateDiff was written by a
// build whose on-wire layout this build cannot safely interpret. Unlike a
// transport fault, it is never retried: the caller's build is simply too
// old (or too new) for the bytes it found, and must be upgraded or
// downgraded before proceeding.
type CodecMismatch struct {
	WriterVersion string
	ReaderVersion string
}

func (e *CodecMismatch) Error() string {
	return fmt.Sprintf("state: codec mismatch: blob written by build %q, this reader is build %q", e.WriterVersion, e.ReaderVersion)
}

// wireHeader precedes every encoded State/StateDiff payload. BuildVersion
// lets a reader refuse to decode bytes written by an incompatible build
// instead of silently misinterpreting them.
type wireHeader struct {
	BuildVersion string
}

const wireMagic uint32 = 0x53765331 // "SvS1"

func encodeEnvelope(buildVersion string, payload any) ([]byte, error) {
	var body bytes.Buffer
	enc := gob.NewEncoder(&body)
	if err := enc.Encode(wireHeader{BuildVersion: buildVersion}); err != nil {
		return nil, fmt.Errorf("state: encoding header: %w", err)
	}
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("state: encoding payload: %w", err)
	}

	zw, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("state: constructing zstd writer: %w", err)
	}
	defer zw.Close()
	compressed := zw.EncodeAll(body.Bytes(), nil)

	var out bytes.Buffer
	if err := binary.Write(&out, binary.BigEndian, wireMagic); err != nil {
		return nil, err
	}
	out.Write(compressed)
	return out.Bytes(), nil
}

func decodeEnvelope(readerBuildVersion string, data []byte, payload any) error {
	if len(data) < 4 {
		return fmt.Errorf("state: truncated payload: %d bytes", len(data))
	}
	var magic uint32
	if err := binary.Read(bytes.NewReader(data[:4]), binary.BigEndian, &magic); err != nil {
		return err
	}
	if magic != wireMagic {
		return fmt.Errorf("state: bad magic %#x, expected %#x", magic, wireMagic)
	}

	zr, err := zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("state: constructing zstd reader: %w", err)
	}
	defer zr.Close()
	body, err := zr.DecodeAll(data[4:], nil)
	if err != nil {
		return fmt.Errorf("state: decompressing payload: %w", err)
	}

	dec := gob.NewDecoder(bytes.NewReader(body))
	var header wireHeader
	if err := dec.Decode(&header); err != nil {
		return fmt.Errorf("state: decoding header: %w", err)
	}
	if header.BuildVersion != readerBuildVersion {
		return &CodecMismatch{WriterVersion: header.BuildVersion, ReaderVersion: readerBuildVersion}
	}
	if err := dec.Decode(payload); err != nil {
		return fmt.Errorf("state: decoding payload: %w", err)
	}
	return nil
}

// Encode serializes s for storage as a rollup blob.
func (s *State[K, V, T, D]) Encode() ([]byte, error) {
	return encodeEnvelope(s.BuildVersion, s)
}

// DecodeState deserializes a rollup blob written by Encode. A
// *CodecMismatch is returned, never panicked, when the blob's build
// version doesn't match readerBuildVersion: callers decide whether that's
// fatal or tolerable.
func DecodeState[K any, V any, T Timestamp[T], D Semigroup[D]](readerBuildVersion string, data []byte) (*State[K, V, T, D], error) {
	var s State[K, V, T, D]
	if err := decodeEnvelope(readerBuildVersion, data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Encode serializes d for storage as a Consensus entry.
func (d *StateDiff[T, D]) Encode() ([]byte, error) {
	return encodeEnvelope(d.BuildVersion, d)
}

// DecodeStateDiff deserializes a Consensus entry written by Encode.
func DecodeStateDiff[T Timestamp[T], D Semigroup[D]](readerBuildVersion string, data []byte) (*StateDiff[T, D], error) {
	var d StateDiff[T, D]
	if err := decodeEnvelope(readerBuildVersion, data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
