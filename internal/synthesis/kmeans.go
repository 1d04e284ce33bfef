package synthesis

import "math"

// maxKMeansIterations bounds Lloyd's algorithm; on corpora this size it
// converges in a handful of passes.
const maxKMeansIterations = 25

// kmeansPartition groups vector indices into at most k clusters with
// Lloyd's algorithm. Initialization is deterministic farthest-first
// traversal (no random seeding), so the same embeddings always produce the
// same partition — which keeps a resumed clustering phase consistent with
// the run it resumes. Clusters that end up empty are dropped, so the
// result may have fewer than k groups.
func kmeansPartition(vectors [][]float64, k int) [][]int {
	n := len(vectors)
	if n == 0 || k <= 0 {
		return nil
	}
	if k > n {
		k = n
	}

	centroids := farthestFirstCentroids(vectors, k)
	assign := make([]int, n)

	for iter := 0; iter < maxKMeansIterations; iter++ {
		changed := false
		for i, v := range vectors {
			best, bestDist := 0, math.Inf(1)
			for ci, cent := range centroids {
				if d := sqDist(v, cent); d < bestDist {
					best, bestDist = ci, d
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		dim := len(vectors[0])
		sums := make([][]float64, k)
		counts := make([]int, k)
		for ci := range sums {
			sums[ci] = make([]float64, dim)
		}
		for i, v := range vectors {
			ci := assign[i]
			counts[ci]++
			for d := range v {
				sums[ci][d] += v[d]
			}
		}
		for ci := range centroids {
			if counts[ci] == 0 {
				continue // keep the old centroid; it may capture points next pass
			}
			for d := range sums[ci] {
				sums[ci][d] /= float64(counts[ci])
			}
			centroids[ci] = sums[ci]
		}
	}

	groups := make([][]int, k)
	for i, ci := range assign {
		groups[ci] = append(groups[ci], i)
	}
	nonEmpty := groups[:0]
	for _, g := range groups {
		if len(g) > 0 {
			nonEmpty = append(nonEmpty, g)
		}
	}
	return nonEmpty
}

// farthestFirstCentroids seeds K-means deterministically: the first vector,
// then repeatedly the point farthest from every centroid chosen so far.
func farthestFirstCentroids(vectors [][]float64, k int) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, vectors[0])

	minDist := make([]float64, len(vectors))
	for i, v := range vectors {
		minDist[i] = sqDist(v, centroids[0])
	}

	for len(centroids) < k {
		farthest, farthestDist := 0, -1.0
		for i, d := range minDist {
			if d > farthestDist {
				farthest, farthestDist = i, d
			}
		}
		centroids = append(centroids, vectors[farthest])
		for i, v := range vectors {
			if d := sqDist(v, vectors[farthest]); d < minDist[i] {
				minDist[i] = d
			}
		}
	}
	return centroids
}

func sqDist(a, b []float64) float64 {
	total := 0.0
	for i := range a {
		diff := a[i] - b[i]
		total += diff * diff
	}
	return total
}
