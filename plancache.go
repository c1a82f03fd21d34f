package flexilite

import (
	"github.com/cespare/xxhash/v2"
)

// planCache holds decoded plans of one connection, keyed by the hash of the
// plan string. It is cleared wholesale whenever the schema version changes.
type planCache struct {
	size    int
	entries map[uint64]*compiledPlan
	hits    int
	misses  int
}

func newPlanCache(size int) *planCache {
	if size <= 0 {
		size = defaultPlanCacheSize
	}
	return &planCache{size: size, entries: make(map[uint64]*compiledPlan)}
}

func (pc *planCache) get(classID int64, planStr string) *compiledPlan {
	cp := pc.entries[planKey(classID, planStr)]
	if cp == nil || cp.str != planStr || cp.classID != classID {
		pc.misses++
		return nil
	}
	pc.hits++
	return cp
}

func (pc *planCache) put(cp *compiledPlan) {
	if len(pc.entries) >= pc.size {
		clear(pc.entries)
	}
	pc.entries[planKey(cp.classID, cp.str)] = cp
}

func (pc *planCache) reset() {
	clear(pc.entries)
}

func (pc *planCache) Len() int { return len(pc.entries) }

func planKey(classID int64, planStr string) uint64 {
	d := xxhash.New()
	d.Write(idKey(classID))
	d.WriteString(planStr)
	return d.Sum64()
}
