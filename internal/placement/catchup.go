package placement

import "context"

// UpdatesSince answers "what changed on this board since timestamp T" for
// clients resuming after a gap: every event with timestamp strictly
// greater than sinceMS, in the same total order the live broadcast stream
// would have delivered them. Safe to call repeatedly with the same
// timestamp; consumers re-apply idempotently (last write wins).
func (s *Service) UpdatesSince(ctx context.Context, boardID string, sinceMS int64) ([]PlacementEvent, error) {
	events, err := s.log.ReadSince(ctx, boardID, sinceMS)
	if err != nil {
		return nil, newTransient(err)
	}
	return events, nil
}
