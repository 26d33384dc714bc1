// Package password реализует хеширование и проверку секретов через bcrypt.
//
// В портале так хранится общая кодовая фраза онбординга: в конфиге лежит только хэш.
package password

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// GetHash принимает секрет и возвращает его bcrypt‑хэш.
func GetHash(password string) (string, error) {
	const op = "password.GetHash"
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return string(hashedPassword), nil
}

// CompareHash сравнивает bcrypt‑хэш с введённым значением.
//
// Возвращает nil, если значение соответствует хэшу, иначе — ошибку.
func CompareHash(originalHash, externalPassword string) error {
	const op = "password.CompareHash"
	if err := bcrypt.CompareHashAndPassword([]byte(originalHash), []byte(externalPassword)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// PassphraseMatcher сверяет введённую кодовую фразу с хэшем из конфига.
type PassphraseMatcher struct {
	hash string
}

// NewPassphraseMatcher создаёт матчер. Пустой хэш означает, что совпадений не бывает.
func NewPassphraseMatcher(hash string) *PassphraseMatcher {
	return &PassphraseMatcher{hash: strings.TrimSpace(hash)}
}

// Match обрезает пробелы по краям ввода и сравнивает его с хэшем.
func (m *PassphraseMatcher) Match(input string) bool {
	input = strings.TrimSpace(input)
	if m.hash == "" || input == "" {
		return false
	}
	return CompareHash(m.hash, input) == nil
}
