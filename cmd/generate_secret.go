package cmd

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/oauth-authcode/security"
)

// newGenerateSecretCmd prints a random AES-256 key for login.secret or
// storage.encryption_secret.
func newGenerateSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-secret",
		Short: "Print a random base64 AES-256 key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := security.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(key))
			return nil
		},
	}
}

// encryptorFromSecret uses secret as the key when it is a base64 AES-256 key
// and derives a key for purpose from it otherwise.
func encryptorFromSecret(secret, purpose string) (*security.Encryptor, error) {
	if key, err := security.KeyFromBase64(secret); err == nil {
		return security.NewEncryptor(key)
	}
	return security.NewEncryptorFromSecret(secret, purpose)
}
