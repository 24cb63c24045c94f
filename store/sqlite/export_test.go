package sqlite

// Exec runs raw SQL against the store's connection
func Exec(s *Store, query string, args ...interface{}) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, err := s.conn.Exec(query, args...)
	return err
}
