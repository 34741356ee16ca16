package kvcontext

import (
	"strconv"

	"github.com/calvinalkan/kvserver/internal/codec"
	"github.com/calvinalkan/kvserver/internal/store"
)

// KeySource adapts a *store.Store into the read/write surface
// internal/migrate needs: type lookup, slot-set membership
// maintenance, serialization into peer-side commands, and local deletion.
type KeySource struct {
	st *store.Store
}

// NewKeySource builds a migrate.KeySource backed by st.
func NewKeySource(st *store.Store) *KeySource {
	return &KeySource{st: st}
}

// TypeOf implements migrate.KeySource.
func (k *KeySource) TypeOf(key []byte) (codec.ValueType, bool, error) {
	return k.st.TypeOf(key)
}

// RemoveSlotMember implements migrate.KeySource.
func (k *KeySource) RemoveSlotMember(t codec.ValueType, key []byte) error {
	return k.st.RemoveSlotMember(t, key)
}

// RestoreSlotMember implements migrate.KeySource.
func (k *KeySource) RestoreSlotMember(t codec.ValueType, key []byte) error {
	return k.st.RestoreSlotMember(t, key)
}

// DeleteLocal implements migrate.KeySource.
func (k *KeySource) DeleteLocal(_ codec.ValueType, key []byte) error {
	_, err := k.st.Del(key)
	return err
}

// TTLCommand implements migrate.KeySource: a trailing PEXPIREAT if key
// carries an expiration.
func (k *KeySource) TTLCommand(key []byte) ([]string, error) {
	etimeMS, ok, err := k.st.TTL(key)
	if err != nil || !ok || etimeMS == 0 {
		return nil, err
	}

	return []string{"PEXPIREAT", string(key), strconv.FormatUint(etimeMS, 10)}, nil
}

// SerializeCommands implements migrate.KeySource: builds the peer-side
// commands that recreate key's current value. maxBytes is honored
// by the caller's chunking pass, not here.
func (k *KeySource) SerializeCommands(t codec.ValueType, key []byte, _ int) ([][]string, error) {
	switch t {
	case codec.TypeString:
		value, ok, err := k.st.Get(key)
		if err != nil || !ok {
			return nil, err
		}

		return [][]string{{"SET", string(key), string(value)}}, nil

	case codec.TypeHash:
		fields, err := k.st.HGetAll(key)
		if err != nil {
			return nil, err
		}

		cmds := make([][]string, 0, len(fields))
		for _, f := range fields {
			cmds = append(cmds, []string{"HSET", string(key), string(f.Field), string(f.Value)})
		}

		return cmds, nil

	case codec.TypeList:
		values, err := k.st.LRange(key, 0, -1)
		if err != nil {
			return nil, err
		}

		cmds := make([][]string, 0, len(values))
		for _, v := range values {
			cmds = append(cmds, []string{"RPUSH", string(key), string(v)})
		}

		return cmds, nil

	case codec.TypeSet:
		members, err := k.st.SMembers(key)
		if err != nil {
			return nil, err
		}

		cmds := make([][]string, 0, len(members))
		for _, m := range members {
			cmds = append(cmds, []string{"SADD", string(key), string(m)})
		}

		return cmds, nil

	case codec.TypeZSet:
		members, err := k.st.ZRange(key, 0, -1)
		if err != nil {
			return nil, err
		}

		cmds := make([][]string, 0, len(members))
		for _, m := range members {
			cmds = append(cmds, []string{"ZADD", string(key), strconv.FormatFloat(m.Score, 'g', -1, 64), string(m.Member)})
		}

		return cmds, nil

	default:
		return nil, nil
	}
}
