package store

import (
	"github.com/calvinalkan/kvserver/internal/codec"
	"github.com/calvinalkan/kvserver/internal/engine"
)

// HGet returns field's value in key's hash. ok is false if key or field does
// not exist.
func (s *Store) HGet(key, field []byte) (value []byte, ok bool, err error) {
	release := s.locks.RLock([][]byte{key})
	defer release()

	meta, ok, err := s.loadComposite(key, codec.TypeHash)
	if err != nil || !ok {
		return nil, false, err
	}

	dataKey := codec.EncodeDataKey(key, meta.Version, field)

	raw, err := s.eng.Get(engine.CFData, dataKey)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}

		return nil, false, err
	}

	return raw, true, nil
}

// HSet sets field to value in key's hash, creating the hash if absent. It
// reports whether field was newly created.
func (s *Store) HSet(key, field, value []byte) (created bool, err error) {
	release := s.locks.Lock([][]byte{key})
	defer release()

	meta, ok, err := s.loadComposite(key, codec.TypeHash)
	if err != nil {
		return false, err
	}

	if !ok {
		version, err := s.nextVersion(key)
		if err != nil {
			return false, err
		}

		meta = codec.CompositeMeta{Type: codec.TypeHash, Version: version}
	}

	dataKey := codec.EncodeDataKey(key, meta.Version, field)

	_, existed, err := s.rawGet(engine.CFData, dataKey)
	if err != nil {
		return false, err
	}

	batch := s.eng.NewBatch()
	batch.Put(engine.CFData, dataKey, value)

	if !existed {
		meta.Count++
	}

	metaRaw, err := codec.EncodeMeta(meta)
	if err != nil {
		return false, err
	}

	batch.Put(engine.CFMeta, key, metaRaw)

	if err := s.eng.Write(batch); err != nil {
		return false, err
	}

	if err := s.indexAdd(codec.TypeHash, key); err != nil {
		return !existed, err
	}

	return !existed, nil
}

// HDel removes fields from key's hash, reporting how many existed.
func (s *Store) HDel(key []byte, fields ...[]byte) (removed int, err error) {
	release := s.locks.Lock([][]byte{key})
	defer release()

	meta, ok, err := s.loadComposite(key, codec.TypeHash)
	if err != nil || !ok {
		return 0, err
	}

	batch := s.eng.NewBatch()

	for _, field := range fields {
		dataKey := codec.EncodeDataKey(key, meta.Version, field)

		_, existed, err := s.rawGet(engine.CFData, dataKey)
		if err != nil {
			return removed, err
		}

		if !existed {
			continue
		}

		batch.Delete(engine.CFData, dataKey)

		removed++
		meta.Count--
	}

	if removed == 0 {
		return 0, nil
	}

	metaRaw, err := codec.EncodeMeta(meta)
	if err != nil {
		return 0, err
	}

	batch.Put(engine.CFMeta, key, metaRaw)

	if err := s.eng.Write(batch); err != nil {
		return 0, err
	}

	if meta.Count == 0 {
		if err := s.indexRemove(codec.TypeHash, key); err != nil {
			return removed, err
		}
	}

	return removed, nil
}

// HLen returns the number of fields in key's hash.
func (s *Store) HLen(key []byte) (int, error) {
	release := s.locks.RLock([][]byte{key})
	defer release()

	meta, ok, err := s.loadComposite(key, codec.TypeHash)
	if err != nil || !ok {
		return 0, err
	}

	return int(meta.Count), nil
}

// HField is one field/value pair returned by HGetAll.
type HField struct {
	Field []byte
	Value []byte
}

// HGetAll enumerates every field/value pair in key's hash, in key order.
func (s *Store) HGetAll(key []byte) ([]HField, error) {
	release := s.locks.RLock([][]byte{key})
	defer release()

	meta, ok, err := s.loadComposite(key, codec.TypeHash)
	if err != nil || !ok {
		return nil, err
	}

	prefix := dataPrefix(key, meta.Version)

	it := s.eng.NewIterator(engine.CFData)
	defer it.Close()

	var out []HField

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		parsed, err := codec.ParseDataKey(it.Key())
		if err != nil {
			return nil, err
		}

		field := make([]byte, len(parsed.SubKey))
		copy(field, parsed.SubKey)

		out = append(out, HField{Field: field, Value: it.Value()})
	}

	return out, nil
}

func (s *Store) rawGet(cf engine.CF, key []byte) (value []byte, ok bool, err error) {
	raw, err := s.eng.Get(cf, key)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}

		return nil, false, err
	}

	return raw, true, nil
}
