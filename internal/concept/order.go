package concept

import "sort"

// Ordering is the result of OrderByDependency.
type Ordering struct {
	Ordered []Concept
	// Missing lists referenced ids absent from the input, sorted.
	Missing []string
}

// OrderByDependency linearizes concepts so that each one follows every
// dependency present in the input. Concepts without a SourceLocalID are
// dropped. Absent dependencies are reported in Missing, never as an error.
// Cycles are broken at the first concept reached.
func OrderByDependency(concepts []Concept) Ordering {
	arena := make([]Concept, 0, len(concepts))
	index := make(map[string]int, len(concepts))
	for _, c := range concepts {
		if c.SourceLocalID == "" {
			continue
		}
		if i, dup := index[c.SourceLocalID]; dup {
			arena[i] = c
			continue
		}
		index[c.SourceLocalID] = len(arena)
		arena = append(arena, c)
	}

	visited := make([]bool, len(arena))
	ordered := make([]Concept, 0, len(arena))
	missing := make(map[string]struct{})

	// Depth-first post-order with an explicit stack; chains of dependent
	// concepts can be as deep as the vault is large.
	type frame struct {
		i    int
		deps []string
		next int
	}
	var stack []frame
	for root := range arena {
		if visited[root] {
			continue
		}
		visited[root] = true
		stack = append(stack[:0], frame{i: root, deps: arena[root].Dependencies()})
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next == len(top.deps) {
				ordered = append(ordered, arena[top.i])
				stack = stack[:len(stack)-1]
				continue
			}
			dep := top.deps[top.next]
			top.next++
			j, ok := index[dep]
			if !ok {
				missing[dep] = struct{}{}
				continue
			}
			if !visited[j] {
				visited[j] = true
				stack = append(stack, frame{i: j, deps: arena[j].Dependencies()})
			}
		}
	}

	out := Ordering{Ordered: ordered, Missing: make([]string, 0, len(missing))}
	for id := range missing {
		out.Missing = append(out.Missing, id)
	}
	sort.Strings(out.Missing)
	return out
}

// Batches splits concepts into consecutive chunks of at most size.
func Batches(concepts []Concept, size int) [][]Concept {
	if size <= 0 {
		size = len(concepts)
	}
	var out [][]Concept
	for start := 0; start < len(concepts); start += size {
		end := start + size
		if end > len(concepts) {
			end = len(concepts)
		}
		out = append(out, concepts[start:end])
	}
	return out
}
