package bidding

import "sort"

// Less задаёт порядок в очереди: больше баллов выше, при равенстве раньше поставивший,
// при совпадении времени: меньший ID.
func Less(a, b Bid) bool {
	if a.Points != b.Points {
		return a.Points > b.Points
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Rank возвращает копию ставок, отсортированную по Less, с позициями 1..N.
// Входной срез не меняется.
func Rank(bids []Bid) []Bid {
	ranked := make([]Bid, len(bids))
	copy(ranked, bids)
	sort.SliceStable(ranked, func(i, j int) bool { return Less(ranked[i], ranked[j]) })
	for i := range ranked {
		ranked[i].Position = i + 1
	}
	return ranked
}

// Positions возвращает позиции по ID ставки для Pool.SetPositions.
func Positions(ranked []Bid) map[string]int {
	out := make(map[string]int, len(ranked))
	for _, b := range ranked {
		out[b.ID] = b.Position
	}
	return out
}
