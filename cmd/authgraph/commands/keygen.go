package commands

import (
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/backkem/authgraph/pkg/crypto"
)

// pemKeyType labels the PEM block holding the raw P-256 scalar.
const pemKeyType = "AUTHGRAPH PRIVATE KEY"

func keygenCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a long-term identity key",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := crypto.GenerateP256KeyPair()
			if err != nil {
				return err
			}
			defer kp.Zeroize()

			block := &pem.Block{
				Type:  pemKeyType,
				Bytes: kp.PrivateKeyBytes(),
			}
			defer crypto.Zeroize(block.Bytes)

			if err := os.WriteFile(out, pem.EncodeToMemory(block), 0o600); err != nil {
				return err
			}

			fmt.Printf("Identity key written to %s\n", out)
			fmt.Printf("Public key: %s\n", hex.EncodeToString(kp.PublicKey()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "authgraph.key", "output key file")
	return cmd
}

// loadKeyPair reads a PEM identity key written by keygen.
func loadKeyPair(path string) (*crypto.P256KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemKeyType {
		return nil, fmt.Errorf("%s: no %s block found", path, pemKeyType)
	}
	defer crypto.Zeroize(block.Bytes)
	return crypto.P256KeyPairFromPrivateKey(block.Bytes)
}
