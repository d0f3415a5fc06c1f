package reminder

// candidates flattens audience rows, deriving the display name once per row.
func candidates(devices []Device, fallback string) []Candidate {
	out := make([]Candidate, 0, len(devices))
	for _, d := range devices {
		out = append(out, Candidate{
			UserID: d.UserID,
			Token:  d.Token,
			Name:   FirstName(d.FullName, fallback),
		})
	}
	return out
}

// userIDs returns the distinct profile ids in first-seen order.
func userIDs(cands []Candidate) []string {
	seen := make(map[string]struct{}, len(cands))
	ids := make([]string, 0, len(cands))
	for _, c := range cands {
		if _, ok := seen[c.UserID]; ok {
			continue
		}
		seen[c.UserID] = struct{}{}
		ids = append(ids, c.UserID)
	}
	return ids
}

// suppress drops every device whose owner is in active.
func suppress(cands []Candidate, active []string) []Candidate {
	if len(active) == 0 {
		return cands
	}
	skip := make(map[string]struct{}, len(active))
	for _, id := range active {
		skip[id] = struct{}{}
	}
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if _, ok := skip[c.UserID]; !ok {
			out = append(out, c)
		}
	}
	return out
}
