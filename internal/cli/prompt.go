package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// readPassphrase reads a passphrase from the controlling terminal with
// echo suppressed. If stdin is not a terminal (e.g. piped input in tests),
// it falls back to a single line read so the CLI stays scriptable.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("read passphrase: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	bytes, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(bytes), nil
}

// PromptNewPassphrase asks for a passphrase twice and requires the two
// entries to match, for "init" where a typo would lock out an entire
// archive.
func PromptNewPassphrase() (string, error) {
	first, err := readPassphrase("Passphrase: ")
	if err != nil {
		return "", err
	}
	if first == "" {
		return "", fmt.Errorf("passphrase must not be empty")
	}
	second, err := readPassphrase("Confirm passphrase: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("passphrases do not match")
	}
	return first, nil
}

// PromptExistingPassphrase asks for the passphrase once, for "backup" and
// "restore" where the stored hash (§4.1) catches a typo.
func PromptExistingPassphrase() (string, error) {
	return readPassphrase("Passphrase: ")
}
