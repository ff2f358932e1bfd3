package opportunity

import "sort"

// RankForFeaturing orders candidates for the next publication, biased
// away from repeats. Candidates in the exclusion set are removed
// entirely. The rest are ordered by ascending newsletter_appearances,
// then descending confidence, then creation order: a never-featured
// candidate beats a repeatedly-featured one at equal confidence. At most
// maxReturning previously-featured candidates survive into the result;
// featured candidates past the cap are dropped even when they would
// outrank unfeatured ones.
//
// Ranking is pure selection. Featuring side effects (appearance counts,
// featured-at stamps) happen once per publication event, at publish time.
func RankForFeaturing(candidates []Opportunity, maxReturning int, exclusions map[string]struct{}) []Opportunity {
	eligible := make([]Opportunity, 0, len(candidates))
	for _, c := range candidates {
		if _, blocked := exclusions[c.ID]; blocked {
			continue
		}
		eligible = append(eligible, c)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].NewsletterAppearances != eligible[j].NewsletterAppearances {
			return eligible[i].NewsletterAppearances < eligible[j].NewsletterAppearances
		}
		if eligible[i].Confidence != eligible[j].Confidence {
			return eligible[i].Confidence > eligible[j].Confidence
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	out := make([]Opportunity, 0, len(eligible))
	returning := 0
	for _, c := range eligible {
		if c.Featured() {
			if returning >= maxReturning {
				continue
			}
			returning++
		}
		out = append(out, c)
	}
	return out
}
