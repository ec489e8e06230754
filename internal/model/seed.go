package model

import "fmt"

// MaxSeeds is the number of addressable slots in a job's image grid.
const MaxSeeds = 4

// Seed is a slot position in a job's image grid. Task order, Image.seed
// and refinement targets all share this index space.
type Seed int

// NewSeed returns the seed for i, rejecting positions outside the grid.
func NewSeed(i int) (Seed, error) {
	if i < 0 || i >= MaxSeeds {
		return 0, fmt.Errorf("seed %d out of range [0, %d)", i, MaxSeeds)
	}
	return Seed(i), nil
}

func (s Seed) Int() int {
	return int(s)
}

var seedLabels = [MaxSeeds]string{"front-view", "three-quarter", "side-profile", "back-view"}

// Label names the pose rendered at this seed.
func (s Seed) Label() string {
	if s < 0 || int(s) >= MaxSeeds {
		return fmt.Sprintf("image-%d", int(s))
	}
	return seedLabels[s]
}
