package auth

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// PromptFunc asks the user for credentials for host
type PromptFunc func(host string) (username, password string, err error)

// TerminalPrompt reads the username from stdin and the password without echo
func TerminalPrompt(host string) (string, string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", "", fmt.Errorf("cannot prompt for %s credentials: stdin is not a terminal: %w", host, ErrNoCredentials)
	}

	fmt.Fprintf(os.Stderr, "Please provide your Earthdata Login credentials for %s.\n", host)
	fmt.Fprint(os.Stderr, "Username: ")
	reader := bufio.NewReader(os.Stdin)
	username, err := reader.ReadString('\n')
	if err != nil {
		return "", "", fmt.Errorf("failed to read username: %w", err)
	}

	fmt.Fprint(os.Stderr, "Password: ")
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", "", fmt.Errorf("failed to read password: %w", err)
	}

	return strings.TrimSpace(username), string(password), nil
}
