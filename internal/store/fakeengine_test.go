package store_test

import (
	"sort"

	"github.com/calvinalkan/kvserver/internal/engine"
	"github.com/calvinalkan/kvserver/internal/kverr"
)

// fakeEngine stands in for *engine.Engine: store.Store only needs the
// narrow [store.Engine] surface (Get/NewBatch/Write/NewIterator), and a
// real grocksdb engine is not available in this package's test environment
// - the same reasoning checkpoint_test.go's fakeEngine documents.
type fakeEngine struct {
	meta map[string][]byte
	data map[string][]byte
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{meta: map[string][]byte{}, data: map[string][]byte{}}
}

func (f *fakeEngine) cfMap(cf engine.CF) map[string][]byte {
	if cf == engine.CFMeta {
		return f.meta
	}

	return f.data
}

func (f *fakeEngine) Get(cf engine.CF, key []byte) ([]byte, error) {
	v, ok := f.cfMap(cf)[string(key)]
	if !ok {
		return nil, kverr.New(kverr.KindNotFound, "fakeEngine.Get", nil)
	}

	out := make([]byte, len(v))
	copy(out, v)

	return out, nil
}

func (f *fakeEngine) NewBatch() engine.Batch { return &fakeBatch{eng: f} }

func (f *fakeEngine) Write(b engine.Batch) error {
	fb, ok := b.(*fakeBatch)
	if !ok {
		return kverr.New(kverr.KindInvalidArgument, "fakeEngine.Write", nil)
	}

	for _, op := range fb.ops {
		if op.del {
			delete(f.cfMap(op.cf), string(op.key))
			continue
		}

		f.cfMap(op.cf)[string(op.key)] = op.val
	}

	return nil
}

func (f *fakeEngine) NewIterator(cf engine.CF) engine.Iterator {
	m := f.cfMap(cf)

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return &fakeIterator{keys: keys, m: m, pos: -1}
}

type batchOp struct {
	cf  engine.CF
	key []byte
	val []byte
	del bool
}

type fakeBatch struct {
	eng *fakeEngine
	ops []batchOp
}

func (b *fakeBatch) Put(cf engine.CF, key, value []byte) {
	b.ops = append(b.ops, batchOp{cf: cf, key: key, val: value})
}

func (b *fakeBatch) Delete(cf engine.CF, key []byte) {
	b.ops = append(b.ops, batchOp{cf: cf, key: key, del: true})
}

func (b *fakeBatch) Len() int { return len(b.ops) }

type fakeIterator struct {
	keys []string
	m    map[string][]byte
	pos  int
}

func (it *fakeIterator) Seek(target []byte) {
	t := string(target)

	it.pos = sort.SearchStrings(it.keys, t)
}

func (it *fakeIterator) Next() { it.pos++ }

func (it *fakeIterator) Valid() bool { return it.pos >= 0 && it.pos < len(it.keys) }

func (it *fakeIterator) ValidForPrefix(prefix []byte) bool {
	if !it.Valid() {
		return false
	}

	k := it.keys[it.pos]
	p := string(prefix)

	return len(k) >= len(p) && k[:len(p)] == p
}

func (it *fakeIterator) Key() []byte { return []byte(it.keys[it.pos]) }

func (it *fakeIterator) Value() []byte { return it.m[it.keys[it.pos]] }

func (it *fakeIterator) Close() {}
