package store

import (
	"github.com/calvinalkan/kvserver/internal/codec"
	"github.com/calvinalkan/kvserver/internal/engine"
	"github.com/calvinalkan/kvserver/internal/kverr"
)

// loadComposite reads key's meta record, validating it is either absent or
// of type want. A missing/expired/emptied meta is reported as !ok rather
// than an error, matching the read commands' "nil reply" contract.
func (s *Store) loadComposite(key []byte, want codec.ValueType) (meta codec.CompositeMeta, ok bool, err error) {
	raw, err := s.eng.Get(engine.CFMeta, key)
	if err != nil {
		if kverr.Is(err, kverr.KindNotFound) {
			return codec.CompositeMeta{}, false, nil
		}

		return codec.CompositeMeta{}, false, err
	}

	if len(raw) > 0 && codec.ValueType(raw[0]) == codec.TypeString {
		return codec.CompositeMeta{}, false, kverr.New(kverr.KindInvalidArgument, "store.loadComposite", errWrongType)
	}

	meta, err = codec.ParseMeta(raw)
	if err != nil {
		return codec.CompositeMeta{}, false, err
	}

	if meta.Type != want {
		return codec.CompositeMeta{}, false, kverr.New(kverr.KindInvalidArgument, "store.loadComposite", errWrongType)
	}

	if meta.Expired(s.nowMS()) || meta.Count == 0 {
		return codec.CompositeMeta{}, false, nil
	}

	return meta, true, nil
}

// nextVersion picks the version a freshly created composite at key starts
// with: the current unix second, or one past a prior (now-logically-dead)
// meta's version if that is newer. Bumping strictly past the old version
// guarantees the dead meta's data-CF children can never read as live again,
// even when the recreate happens within the same second.
func (s *Store) nextVersion(key []byte) (uint32, error) {
	raw, err := s.eng.Get(engine.CFMeta, key)
	if err != nil {
		if kverr.Is(err, kverr.KindNotFound) {
			return uint32(s.nowMS() / 1000), nil
		}

		return 0, err
	}

	if len(raw) > 0 && codec.ValueType(raw[0]) == codec.TypeString {
		// A string occupied this key; it never had data-CF children, so any
		// fresh stamp is safe.
		return uint32(s.nowMS() / 1000), nil
	}

	meta, err := codec.ParseMeta(raw)
	if err != nil {
		return 0, err
	}

	return s.bumpVersion(meta.Version), nil
}

// bumpVersion returns a version strictly newer than v and no older than
// the current second.
func (s *Store) bumpVersion(v uint32) uint32 {
	nowSec := uint32(s.nowMS() / 1000)
	if v >= nowSec {
		return v + 1
	}

	return nowSec
}

// dataPrefix returns the data-CF scan prefix for every sub-item currently
// live under key at meta.Version.
func dataPrefix(key []byte, version uint32) []byte {
	return codec.EncodeDataKey(key, version, nil)
}
