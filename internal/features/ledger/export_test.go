package ledger

// corrupt ломает баланс счёта в обход истории, чтобы проверить сверку.
func (s *MemoryStore) corrupt(userID string, delta int64) {
	a := s.account(userID, true)
	a.mu.Lock()
	a.account.TotalPoints += delta
	a.mu.Unlock()
}
