package chat

import (
	"strings"

	"github.com/sahilm/fuzzy"

	"cinna/models"
)

// contactSource реализует fuzzy.Source по строке "имя фамилия username"
type contactSource []models.User

func (s contactSource) String(i int) string {
	u := s[i]
	return strings.ToLower(strings.TrimSpace(u.FirstName + " " + u.LastName + " " + u.Username))
}

func (s contactSource) Len() int { return len(s) }

// search возвращает контакты, подходящие под запрос, лучшие совпадения первыми.
// Пустой запрос возвращает всех в исходном порядке.
func search(users []models.User, query string) []models.User {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return append([]models.User(nil), users...)
	}
	matches := fuzzy.FindFrom(query, contactSource(users))
	out := make([]models.User, 0, len(matches))
	for _, m := range matches {
		out = append(out, users[m.Index])
	}
	return out
}
