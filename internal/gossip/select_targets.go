// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gossip

import (
	"math/rand"
	"sort"
)

// selectGossipTargets picks up to count peers to gossip to: the top two
// by reliability are included unconditionally, and the remainder is
// filled by weighted-random sampling over the rest (weights =
// reliability, normalised).
func selectGossipTargets(peers []Peer, count int, rng *rand.Rand) []Peer {
	if len(peers) == 0 {
		return nil
	}

	sorted := make([]Peer, len(peers))
	copy(sorted, peers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Reliability > sorted[j].Reliability })

	topN := 2
	if topN > len(sorted) {
		topN = len(sorted)
	}
	selected := append([]Peer{}, sorted[:topN]...)

	remaining := sorted[topN:]
	need := count - len(selected)
	if need <= 0 || len(remaining) == 0 {
		return selected
	}

	var totalWeight float64
	for _, p := range remaining {
		totalWeight += p.Reliability
	}

	pool := append([]Peer{}, remaining...)
	for i := 0; i < need && len(pool) > 0; i++ {
		idx := weightedPick(pool, totalWeight, rng)
		selected = append(selected, pool[idx])
		totalWeight -= pool[idx].Reliability
		pool = append(pool[:idx], pool[idx+1:]...)
	}

	return selected
}

// weightedPick returns the index of one entry chosen with probability
// proportional to its reliability, out of totalWeight.
func weightedPick(peers []Peer, totalWeight float64, rng *rand.Rand) int {
	if totalWeight <= 0 {
		return rng.Intn(len(peers))
	}
	r := rng.Float64() * totalWeight
	var cum float64
	for i, p := range peers {
		cum += p.Reliability
		if r <= cum {
			return i
		}
	}
	return len(peers) - 1
}
