package tracking

// UnionFind groups keys into disjoint sets. The zero value is not usable; use NewUnionFind.
type UnionFind[K comparable] struct {
	parent map[K]K
	rank   map[K]int
	order  []K
}

// NewUnionFind returns an empty union find.
func NewUnionFind[K comparable]() *UnionFind[K] {
	return &UnionFind[K]{parent: map[K]K{}, rank: map[K]int{}}
}

func (uf *UnionFind[K]) add(k K) {
	if _, ok := uf.parent[k]; !ok {
		uf.parent[k] = k
		uf.order = append(uf.order, k)
	}
}

// Find returns the representative of the set holding k, adding k as a singleton if unseen.
func (uf *UnionFind[K]) Find(k K) K {
	uf.add(k)
	root := k
	for uf.parent[root] != root {
		root = uf.parent[root]
	}
	for uf.parent[k] != root {
		next := uf.parent[k]
		uf.parent[k] = root
		k = next
	}
	return root
}

// Union merges the sets holding a and b.
func (uf *UnionFind[K]) Union(a, b K) {
	ra, rb := uf.Find(a), uf.Find(b)
	if ra == rb {
		return
	}
	switch {
	case uf.rank[ra] < uf.rank[rb]:
		uf.parent[ra] = rb
	case uf.rank[ra] > uf.rank[rb]:
		uf.parent[rb] = ra
	default:
		uf.parent[rb] = ra
		uf.rank[ra]++
	}
}

// Len returns the number of keys seen.
func (uf *UnionFind[K]) Len() int {
	return len(uf.order)
}

// Sets returns every set. Sets are ordered by the first time one of their keys was seen and
// keys within a set keep that order too.
func (uf *UnionFind[K]) Sets() [][]K {
	index := map[K]int{}
	var sets [][]K
	for _, k := range uf.order {
		root := uf.Find(k)
		i, ok := index[root]
		if !ok {
			i = len(sets)
			index[root] = i
			sets = append(sets, nil)
		}
		sets[i] = append(sets[i], k)
	}
	return sets
}
