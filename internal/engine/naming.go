package engine

import "strconv"

const (
	argPrefix    = "args_"
	returnPrefix = "return_"
)

// GenerateNames returns count names of the form prefix+N that are not in
// taken. Chosen names are added to taken so later calls sharing the set
// cannot pick them again.
func GenerateNames(prefix string, count int, taken map[string]struct{}) []string {
	names := make([]string, 0, count)
	seq := 0
	for len(names) < count {
		candidate := prefix + strconv.Itoa(seq)
		seq++
		if _, ok := taken[candidate]; ok {
			continue
		}
		taken[candidate] = struct{}{}
		names = append(names, candidate)
	}
	return names
}

func takenSet(who any) (map[string]struct{}, error) {
	taken := make(map[string]struct{})
	switch t := who.(type) {
	case nil:
	case []string:
		for _, n := range t {
			taken[n] = struct{}{}
		}
	case string:
		if t != "" {
			taken[t] = struct{}{}
		}
	case []any:
		for i, e := range t {
			n, ok := e.(string)
			if !ok {
				return nil, &unexpectedValueError{what: "who entry " + strconv.Itoa(i), value: e}
			}
			taken[n] = struct{}{}
		}
	default:
		return nil, &unexpectedValueError{what: "who", value: who}
	}
	return taken, nil
}
