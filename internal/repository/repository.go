package repository

import "strings"

// inClauseChunk caps the number of bind variables per IN (...) query
const inClauseChunk = 500

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// escapeLike escapes s for use in LIKE ... ESCAPE '!'
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
