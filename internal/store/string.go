package store

import (
	"github.com/calvinalkan/kvserver/internal/codec"
	"github.com/calvinalkan/kvserver/internal/engine"
	"github.com/calvinalkan/kvserver/internal/kverr"
)

// Get returns key's string value. ok is false if key does not exist, has
// expired, or holds a different type.
func (s *Store) Get(key []byte) (value []byte, ok bool, err error) {
	release := s.locks.RLock([][]byte{key})
	defer release()

	raw, err := s.eng.Get(engine.CFMeta, key)
	if err != nil {
		if kverr.Is(err, kverr.KindNotFound) {
			return nil, false, nil
		}

		return nil, false, err
	}

	if len(raw) == 0 || codec.ValueType(raw[0]) != codec.TypeString {
		return nil, false, nil
	}

	sv, err := codec.ParseStringValue(raw)
	if err != nil {
		return nil, false, err
	}

	if sv.ETimeMS != 0 && sv.ETimeMS < s.nowMS() {
		return nil, false, nil
	}

	out := make([]byte, len(sv.UserValue))
	copy(out, sv.UserValue)

	return out, true, nil
}

// Set stores key as a plain string, overwriting any prior value of any
// type. etimeMS == 0 means no expiration.
func (s *Store) Set(key, value []byte, etimeMS uint64) error {
	release := s.locks.Lock([][]byte{key})
	defer release()

	raw, err := codec.EncodeString(value, s.nowMS(), etimeMS)
	if err != nil {
		return err
	}

	batch := s.eng.NewBatch()
	batch.Put(engine.CFMeta, key, raw)

	if err := s.eng.Write(batch); err != nil {
		return err
	}

	return s.indexAdd(codec.TypeString, key)
}

// SetHyperLogLog stores key as a HyperLogLog register block.
func (s *Store) SetHyperLogLog(key, registers []byte) error {
	release := s.locks.Lock([][]byte{key})
	defer release()

	raw, err := codec.EncodeHyperLogLog(registers, s.nowMS(), 0)
	if err != nil {
		return err
	}

	batch := s.eng.NewBatch()
	batch.Put(engine.CFMeta, key, raw)

	return s.eng.Write(batch)
}

// GetHyperLogLog returns key's HyperLogLog register block, or ok=false if
// key does not exist or is not a HyperLogLog value.
func (s *Store) GetHyperLogLog(key []byte) (registers []byte, ok bool, err error) {
	release := s.locks.RLock([][]byte{key})
	defer release()

	raw, err := s.eng.Get(engine.CFMeta, key)
	if err != nil {
		if kverr.Is(err, kverr.KindNotFound) {
			return nil, false, nil
		}

		return nil, false, err
	}

	if len(raw) == 0 || codec.ValueType(raw[0]) != codec.TypeString {
		return nil, false, nil
	}

	sv, err := codec.ParseStringValue(raw)
	if err != nil {
		return nil, false, err
	}

	if !sv.IsHyperLogLog() {
		return nil, false, nil
	}

	out := make([]byte, len(sv.UserValue))
	copy(out, sv.UserValue)

	return out, true, nil
}
