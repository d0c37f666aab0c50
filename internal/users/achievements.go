package users

// Achievement is a badge awarded for problem-solving progress.
type Achievement struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	earned      func(Stats) bool
}

var achievementCatalog = []Achievement{
	{ID: "first-solve", Name: "First Blood", Description: "Solve your first problem", earned: func(s Stats) bool { return s.ProblemsSolved >= 1 }},
	{ID: "ten-solves", Name: "Getting Warm", Description: "Solve ten problems", earned: func(s Stats) bool { return s.ProblemsSolved >= 10 }},
	{ID: "fifty-solves", Name: "Problem Crusher", Description: "Solve fifty problems", earned: func(s Stats) bool { return s.ProblemsSolved >= 50 }},
	{ID: "streak-3", Name: "On a Roll", Description: "Solve problems three days in a row", earned: func(s Stats) bool { return s.Streak >= 3 }},
	{ID: "streak-7", Name: "Week Warrior", Description: "Solve problems seven days in a row", earned: func(s Stats) bool { return s.Streak >= 7 }},
}

// Achievements lists every achievement that can be earned.
func Achievements() []Achievement {
	catalog := make([]Achievement, len(achievementCatalog))
	copy(catalog, achievementCatalog)
	return catalog
}

// newlyEarned returns the ids earned by stats that are not in held.
func newlyEarned(stats Stats, held []string) []string {
	owned := make(map[string]struct{}, len(held))
	for _, id := range held {
		owned[id] = struct{}{}
	}
	var earned []string
	for _, achievement := range achievementCatalog {
		if _, ok := owned[achievement.ID]; ok {
			continue
		}
		if achievement.earned(stats) {
			earned = append(earned, achievement.ID)
		}
	}
	return earned
}
