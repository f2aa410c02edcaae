package domain

// SeedSet is reference data loaded from a seed file.
type SeedSet struct {
	Mandates []Mandate

	// Expressions maps mandate IDs to their full expression sets.
	Expressions map[string][]KnownExpression

	Banks []Bank
}

// Validate checks every mandate and expression in the set.
func (s *SeedSet) Validate() error {
	for i := range s.Mandates {
		if err := s.Mandates[i].Validate(); err != nil {
			return err
		}
	}
	for _, exprs := range s.Expressions {
		for i := range exprs {
			if err := exprs[i].Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}
