package flexilite

import (
	"encoding/json"
)

type ClassStats struct {
	Objects      int
	Values       int
	IndexRows    int
	RangeRows    int
	FullTextRows int
}

func (cs ClassStats) TotalRows() int {
	return cs.Objects + cs.Values + cs.IndexRows + cs.RangeRows + cs.FullTextRows
}

// ClassStats counts the stored rows of one class.
func (tx *Tx) ClassStats(cd *ClassDef) ClassStats {
	var result ClassStats
	ids := tx.classObjectIDs(cd.ID)
	result.Objects = len(ids)
	for _, id := range ids {
		for c := tx.scanRange(bucketValues, RawPrefix(idKey(id))); c.Next(); {
			result.Values++
		}
	}
	for _, pd := range cd.Columns() {
		if !pd.IsIndexed() {
			continue
		}
		for c := tx.scanRange(bucketValueIndex, RawPrefix(valueIndexPrefix(pd.ID))); c.Next(); {
			result.IndexRows++
		}
	}
	for c := tx.scanRange(bucketRangeIndex, RawPrefix(idKey(cd.ID))); c.Next(); {
		result.RangeRows++
	}
	for c := tx.scanRange(bucketFullText, RawPrefix(idKey(cd.ID))); c.Next(); {
		result.FullTextRows++
	}
	return result
}

func (c *Conn) ClassStats(className string) (ClassStats, error) {
	var result ClassStats
	err := c.Read(func(tx *Tx) error {
		cd, err := tx.ClassByName(className)
		if err != nil {
			return err
		}
		result = tx.ClassStats(cd)
		return nil
	})
	return result, err
}

// BucketSizes returns the number of keys in every storage bucket.
func (tx *Tx) BucketSizes() map[string]int {
	m := make(map[string]int, len(allBuckets))
	for _, name := range allBuckets {
		m[name] = tx.bucket(name).KeyCount()
	}
	return m
}

func loggableValue(v any) string {
	if v == nil {
		return "<none>"
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "<unencodable>"
	}
	return string(raw)
}
