// Package generator picks the reference texts of a session.
package generator

import (
	"math/rand"
	"time"

	"github.com/verte-zerg/tuispeak/internal/assess"
)

// Generator picks reference texts from a pool.
type Generator struct {
	rnd *rand.Rand
}

// New returns a Generator seeded with the current time.
func New() *Generator {
	return NewSeeded(time.Now().UnixNano())
}

// NewSeeded returns a Generator with a fixed seed.
func NewSeeded(seed int64) *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(seed))}
}

// Pick returns count texts from pool, in pool order unless shuffle is set.
// A count of zero or less, or larger than the pool, selects the whole pool.
func (g *Generator) Pick(pool []string, count int, shuffle bool) []string {
	count = clampCount(count, len(pool))
	if !shuffle {
		return append([]string(nil), pool[:count]...)
	}
	result := make([]string, 0, count)
	for _, i := range g.rnd.Perm(len(pool))[:count] {
		result = append(result, pool[i])
	}
	return result
}

// PickWeighted draws count distinct texts, favoring texts that contain weak
// words. Each text weighs 1 + factor per weak word occurrence.
func (g *Generator) PickWeighted(pool []string, count int, weak map[string]struct{}, factor float64) []string {
	count = clampCount(count, len(pool))
	weights := make([]float64, len(pool))
	total := 0.0
	for i, text := range pool {
		weakCount := 0
		for _, w := range assess.Words(text) {
			if _, ok := weak[w]; ok {
				weakCount++
			}
		}
		weights[i] = 1.0 + float64(weakCount)*factor
		total += weights[i]
	}

	result := make([]string, 0, count)
	for len(result) < count {
		r := g.rnd.Float64() * total
		acc := 0.0
		idx := -1
		for j, w := range weights {
			if w == 0 {
				continue
			}
			idx = j
			acc += w
			if r <= acc {
				break
			}
		}
		result = append(result, pool[idx])
		total -= weights[idx]
		weights[idx] = 0
	}
	return result
}

func clampCount(count, size int) int {
	if count <= 0 || count > size {
		return size
	}
	return count
}
