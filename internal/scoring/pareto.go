package scoring

// Frontier returns the scores not dominated on proximity, rating and
// acceptance. It explains trade-offs in a dispatch attempt and plays no part
// in choosing the winner.
// O(n^2); candidate pools are bounded by the search radius.
func Frontier(scores []Score) []Score {
	if len(scores) <= 1 {
		return scores
	}

	var frontier []Score
	for i := range scores {
		dominated := false
		for j := range scores {
			if i == j {
				continue
			}
			if dominates(scores[j].Factors, scores[i].Factors) {
				dominated = true
				break
			}
		}
		if !dominated {
			frontier = append(frontier, scores[i])
		}
	}
	return frontier
}

// dominates returns true if a is at least as good as b everywhere and strictly
// better somewhere.
func dominates(a, b Factors) bool {
	if a.Proximity < b.Proximity || a.Rating < b.Rating || a.Acceptance < b.Acceptance {
		return false
	}
	return a.Proximity > b.Proximity || a.Rating > b.Rating || a.Acceptance > b.Acceptance
}
