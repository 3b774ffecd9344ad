package mutation

// Compress collapses runs that carry no structural information:
// consecutive attr records on the same (xpath, name) keep the last value and
// the first old value, and consecutive text records on the same xpath do the
// same. Inserts and removes are never merged.
func Compress(records []Record) []Record {
	if len(records) <= 1 {
		return records
	}
	out := make([]Record, 0, len(records))
	for i := 0; i < len(records); i++ {
		rec := records[i]
		if rec.Op != OpAttr && rec.Op != OpText {
			out = append(out, rec)
			continue
		}
		firstOld := rec.OldValue
		j := i + 1
		for j < len(records) && sameTarget(rec, records[j]) {
			rec = records[j]
			j++
		}
		rec.OldValue = firstOld
		out = append(out, rec)
		i = j - 1
	}
	return out
}

func sameTarget(a, b Record) bool {
	if a.Op != b.Op || a.XPath != b.XPath {
		return false
	}
	return a.Op == OpText || a.Name == b.Name
}

// Qualifies reports whether any record in the batch inserts text.
func Qualifies(records []Record) bool {
	for _, r := range records {
		if r.CarriesText() {
			return true
		}
	}
	return false
}
