// Команда passhash печатает bcrypt‑хэш кодовой фразы онбординга
// для ONBOARDING_PASSPHRASE_HASH. Фраза читается из stdin, чтобы
// не оставаться в истории shell:
//
//	echo -n 'Traders2024' | go run ./cmd/passhash
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/magabrotheeeer/traders-portal/internal/lib/password"
	"github.com/magabrotheeeer/traders-portal/internal/lib/sl"
)

var errEmptyPassphrase = errors.New("passphrase is empty")

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(os.Stdin, os.Stdout); err != nil {
		logger.Error("failed to hash passphrase", sl.Err(err))
		os.Exit(1)
	}
}

// run читает первую строку ввода и пишет её хэш. Пробелы по краям
// отбрасываются так же, как при сверке в PassphraseMatcher.
func run(in io.Reader, out io.Writer) error {
	const op = "passhash.run"

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: %w", op, err)
	}
	phrase := strings.TrimSpace(line)
	if phrase == "" {
		return fmt.Errorf("%s: %w", op, errEmptyPassphrase)
	}

	hash, err := password.GetHash(phrase)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := fmt.Fprintln(out, hash); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
