package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"agentflow/pkg/config"
)

// passwordEnv skips the password prompt when set.
const passwordEnv = "AGENTFLOW_PASSWORD"

// unlockSecrets decrypts the project's secrets file, if there is one, and
// makes its values visible to config.GetSecret.
func unlockSecrets(projectDir string) error {
	if !config.SecretsFileExists(projectDir) {
		return nil
	}
	password, err := readPassword("🔐 Password for encrypted secrets: ", false)
	if err != nil {
		return err
	}
	secrets, err := config.DecryptSecretsFile(projectDir, password)
	if err != nil {
		return err
	}
	config.SetDecryptedSecrets(secrets)
	return nil
}

func secretsCmd(projectDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage encrypted API keys",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set NAME",
		Short: "Store a secret (value read from stdin or prompted)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(*projectDir)
			if err != nil {
				return err
			}
			value, err := readSecretValue(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			confirm := !config.SecretsFileExists(dir)
			password, err := readPassword("🔐 Password for encrypted secrets: ", confirm)
			if err != nil {
				return err
			}
			secrets := map[string]string{}
			if !confirm {
				if secrets, err = config.DecryptSecretsFile(dir, password); err != nil {
					return err
				}
			}
			secrets[args[0]] = value
			if err := config.EncryptSecretsFile(dir, password, secrets); err != nil {
				return fmt.Errorf("failed to encrypt secrets: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Stored %s in %s/\n", args[0], config.ProjectConfigDir)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored secret names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := filepath.Abs(*projectDir)
			if err != nil {
				return err
			}
			if !config.SecretsFileExists(dir) {
				fmt.Fprintln(cmd.OutOrStdout(), "No secrets stored.")
				return nil
			}
			password, err := readPassword("🔐 Password for encrypted secrets: ", false)
			if err != nil {
				return err
			}
			secrets, err := config.DecryptSecretsFile(dir, password)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(secrets))
			for name := range secrets {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	})
	return cmd
}

// readSecretValue prompts without echo on a terminal and reads one line
// otherwise.
func readSecretValue(in io.Reader, name string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(os.Stderr, "Value for %s: ", name)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read value: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read value: %w", err)
	}
	value := strings.TrimSpace(line)
	if value == "" {
		return "", fmt.Errorf("empty value for %s", name)
	}
	return value, nil
}

// readPassword returns AGENTFLOW_PASSWORD when set, otherwise prompts on
// the terminal. confirm asks twice, for a new secrets file.
func readPassword(prompt string, confirm bool) (string, error) {
	if p := os.Getenv(passwordEnv); p != "" {
		return p, nil
	}
	if !term.IsTerminal(syscall.Stdin) {
		return "", fmt.Errorf("secrets are encrypted; set %s or run from a terminal", passwordEnv)
	}

	fmt.Fprint(os.Stderr, prompt)
	first, err := term.ReadPassword(syscall.Stdin)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	defer clear(first)
	if len(first) == 0 {
		return "", fmt.Errorf("password must not be empty")
	}
	if !confirm {
		return string(first), nil
	}

	fmt.Fprint(os.Stderr, "Confirm password: ")
	second, err := term.ReadPassword(syscall.Stdin)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	defer clear(second)
	if !bytes.Equal(first, second) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(first), nil
}
