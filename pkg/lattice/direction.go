// Package lattice implements the D3Q15 direction set and the per-rank
// local lattice data (LLD): contiguous f_old/f_new arrays, neighbour_index,
// and the inner/inter-site partition of local fluid sites grouped by
// collision class.
package lattice

// Q is the number of distribution directions in the D3Q15 scheme.
const Q = 15

// Vector is one lattice direction vector.
type Vector struct {
	X, Y, Z int
}

// Directions is the D3Q15 velocity set: the rest vector followed by the
// six axis-aligned neighbours and the eight diagonal neighbours. Index 0
// is always the rest direction (0,0,0); index l's inverse is Inverse[l].
var Directions = [Q]Vector{
	{0, 0, 0},
	{1, 0, 0}, {-1, 0, 0},
	{0, 1, 0}, {0, -1, 0},
	{0, 0, 1}, {0, 0, -1},
	{1, 1, 1}, {-1, -1, -1},
	{1, 1, -1}, {-1, -1, 1},
	{1, -1, 1}, {-1, 1, -1},
	{-1, 1, 1}, {1, -1, -1},
}

// Inverse maps each direction index to the index of its opposite vector.
// Computed once at package init so the mapping can never drift from
// Directions.
var Inverse [Q]int

func init() {
	for l, v := range Directions {
		inv := Vector{-v.X, -v.Y, -v.Z}
		found := -1
		for m, w := range Directions {
			if w == inv {
				found = m
				break
			}
		}
		if found < 0 {
			panic("lattice: D3Q15 direction set is not closed under negation")
		}
		Inverse[l] = found
	}
}

// NonZero returns the 14 non-rest direction indices, in the order the BFS
// growth step of the initial block decomposition iterates neighbours.
func NonZero() []int {
	out := make([]int, 0, Q-1)
	for l := 1; l < Q; l++ {
		out = append(out, l)
	}
	return out
}
