package jets

import (
	"fmt"
	"sort"
	"strings"
)

// MergeGroups folds member datasets into combined datasets, e.g. the binned
// Drell-Yan samples into a single "DYJetsToLL" process. A member ending in
// "*" matches by prefix. Members are removed from the returned batch; the
// input map and its datasets are left untouched.
func MergeGroups(datasets map[string]*Dataset, groups map[string][]string) (map[string]*Dataset, error) {
	out := make(map[string]*Dataset, len(datasets))
	for name, ds := range datasets {
		out[name] = ds
	}

	groupNames := make([]string, 0, len(groups))
	for g := range groups {
		groupNames = append(groupNames, g)
	}
	sort.Strings(groupNames)

	for _, group := range groupNames {
		members := matchMembers(Names(datasets), groups[group])
		if len(members) == 0 {
			return nil, fmt.Errorf("merge group %s matches no dataset", group)
		}
		merged := &Dataset{Name: group}
		for _, m := range members {
			if _, ok := out[m]; !ok {
				return nil, fmt.Errorf("dataset %s claimed by more than one merge group", m)
			}
			merged.Jets = append(merged.Jets, datasets[m].Jets...)
			delete(out, m)
		}
		if _, clash := out[group]; clash {
			return nil, fmt.Errorf("merge group %s collides with an existing dataset", group)
		}
		out[group] = merged
	}
	return out, nil
}

func matchMembers(names []string, patterns []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range patterns {
		for _, n := range names {
			ok := n == p
			if prefix, wild := strings.CutSuffix(p, "*"); wild {
				ok = strings.HasPrefix(n, prefix)
			}
			if ok && !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}
