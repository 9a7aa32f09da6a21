package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"opnxt/pkg/config"
)

// passwordReader reads one secret line without echo. Tests replace it.
//
//nolint:gochecknoglobals // test seam
var passwordReader = readTerminalPassword

func readTerminalPassword(out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	fd := int(os.Stdin.Fd()) //nolint:gosec // stdin descriptor fits in int
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		fmt.Fprintln(out)
		return strings.TrimRight(line, "\r\n"), nil
	}
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(out) // New line after password input
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	defer clear(b)
	return string(bytes.TrimSpace(b)), nil
}

// secretsPassword returns the file password from the environment or a prompt. New files
// get the password confirmed.
func secretsPassword(out io.Writer, path string) (string, error) {
	if pw := os.Getenv(config.EnvSecretsPassword); pw != "" {
		return pw, nil
	}
	pw, err := passwordReader(out, "Secrets password: ")
	if err != nil {
		return "", err
	}
	if pw == "" {
		return "", errors.New("password cannot be empty")
	}
	if config.SecretsFileExists(path) {
		return pw, nil
	}
	confirm, err := passwordReader(out, "Confirm password: ")
	if err != nil {
		return "", err
	}
	if confirm != pw {
		return "", errors.New("passwords do not match")
	}
	return pw, nil
}

// openSecrets loads the existing file, if any, into memory.
func openSecrets(out io.Writer, path string) (string, error) {
	pw, err := secretsPassword(out, path)
	if err != nil {
		return "", err
	}
	secrets := map[string]string{}
	if config.SecretsFileExists(path) {
		if secrets, err = config.DecryptSecretsFile(path, pw); err != nil {
			return "", err //nolint:wrapcheck // already descriptive
		}
	}
	config.SetDecryptedSecrets(secrets)
	return pw, nil
}

func newSecretsCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the encrypted provider secrets file",
	}

	secretsPath := func() (string, error) {
		cfg, err := load()
		if err != nil {
			return "", err
		}
		if cfg.Storage.SecretsFile == "" {
			return config.DefaultSecretsFile, nil
		}
		return cfg.Storage.SecretsFile, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set NAME",
		Short: "Store a secret, for example ANTHROPIC_API_KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := secretsPath()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			pw, err := openSecrets(out, path)
			if err != nil {
				return err
			}
			value, err := passwordReader(out, fmt.Sprintf("Value for %s: ", args[0]))
			if err != nil {
				return err
			}
			if value == "" {
				return fmt.Errorf("%s cannot be empty", args[0])
			}
			if err := config.SetSecret(args[0], value); err != nil {
				return err //nolint:wrapcheck // in-memory only
			}
			if err := config.SaveSecretsToFile(path, pw); err != nil {
				return err //nolint:wrapcheck // already descriptive
			}
			fmt.Fprintf(out, "✅ %s saved to %s\n", args[0], path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete NAME",
		Short: "Remove a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := secretsPath()
			if err != nil {
				return err
			}
			if !config.SecretsFileExists(path) {
				return fmt.Errorf("no secrets file at %s", path)
			}
			out := cmd.OutOrStdout()
			pw, err := openSecrets(out, path)
			if err != nil {
				return err
			}
			if err := config.DeleteSecret(args[0]); err != nil {
				return err //nolint:wrapcheck // in-memory only
			}
			if err := config.SaveSecretsToFile(path, pw); err != nil {
				return err //nolint:wrapcheck // already descriptive
			}
			fmt.Fprintf(out, "🗑️ %s removed from %s\n", args[0], path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored secret names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := secretsPath()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !config.SecretsFileExists(path) {
				fmt.Fprintf(out, "No secrets file at %s\n", path)
				return nil
			}
			if _, err := openSecrets(out, path); err != nil {
				return err
			}
			names := config.GetDecryptedSecretNames()
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintln(out, name)
			}
			return nil
		},
	})
	return cmd
}
