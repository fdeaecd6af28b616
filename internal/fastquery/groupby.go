package fastquery

import (
	"github.com/google/uuid"

	"github.com/dbzero-io/dbzero/internal/query"
	"github.com/dbzero-io/dbzero/internal/tags"
)

// GroupFunc resolves one matched object to the group key(s) it
// contributes to. An object may belong to more than one group (e.g. a
// multi-valued split key); it contributes to each returned key
// independently.
type GroupFunc func(obj uuid.UUID) []tags.Key

// GroupBy evaluates q against ev's live tag state (it opens no snapshot
// of its own) and returns its
// grouped aggregate state, reusing a cached entry's state and updating
// it by delta whenever one is found within the compare cutoff instead
// of folding every matched row from scratch.
//
// stateNum must be a finalized state number: GroupBy must never be
// called mid-transaction, since its result is memoized under that
// number for the next caller to build on.
func GroupBy(cache *Cache, ev *query.Evaluator, stateNum uint64, q *query.Query, groupFunc GroupFunc, ops map[string]Op) (map[tags.Key]Bucket, error) {
	result, err := ev.Eval(q.Root)
	if err != nil {
		return nil, err
	}

	sig := query.Sign(q.Root)
	id, err := query.ComputeContentUUID(q.Root, ev)
	if err != nil {
		return nil, err
	}

	groups := make(map[tags.Key]Bucket)
	var removedObjs, addedObjs []uuid.UUID

	if entry, hit := cache.lookup(sig, id, result); hit {
		for k, b := range entry.Groups {
			groups[k] = cloneBucket(b)
		}
		removed := entry.ResultSet.Clone()
		removed.AndNot(result)
		added := result.Clone()
		added.AndNot(entry.ResultSet)
		removedObjs = ev.Objects(removed)
		addedObjs = ev.Objects(added)
	} else {
		addedObjs = ev.Objects(result)
	}

	applyDelta(groups, groupFunc, ops, removedObjs, addedObjs)

	queryBytes, err := query.Serialize(q)
	if err != nil {
		queryBytes = nil // predicate-bearing queries just skip the replay bytes
	}

	cache.store(sig, id, &Entry{
		StateNum:   stateNum,
		QueryBytes: queryBytes,
		ResultSet:  result.Clone(),
		Groups:     groups,
	})

	return groups, nil
}

// applyDelta folds removed and added objects into the per-group buckets
// they touch, one op call per (group, op) pair touched this round.
// Groups untouched by either delta are left exactly as they were.
func applyDelta(groups map[tags.Key]Bucket, groupFunc GroupFunc, ops map[string]Op, removed, added []uuid.UUID) {
	perKeyRemoved := make(map[tags.Key][]uuid.UUID)
	perKeyAdded := make(map[tags.Key][]uuid.UUID)
	for _, o := range removed {
		for _, k := range groupFunc(o) {
			perKeyRemoved[k] = append(perKeyRemoved[k], o)
		}
	}
	for _, o := range added {
		for _, k := range groupFunc(o) {
			perKeyAdded[k] = append(perKeyAdded[k], o)
		}
	}

	touched := make(map[tags.Key]struct{}, len(perKeyRemoved)+len(perKeyAdded))
	for k := range perKeyRemoved {
		touched[k] = struct{}{}
	}
	for k := range perKeyAdded {
		touched[k] = struct{}{}
	}

	for k := range touched {
		bucket, ok := groups[k]
		if !ok {
			bucket = make(Bucket)
		}
		for name, op := range ops {
			bucket[name] = op(bucket[name], perKeyRemoved[k], perKeyAdded[k])
		}
		groups[k] = bucket
	}
}

func cloneBucket(b Bucket) Bucket {
	cp := make(Bucket, len(b))
	for k, v := range b {
		cp[k] = v
	}
	return cp
}
