package cli

import (
	"encoding/hex"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/clawinfra/toolgate/internal/profile"
	"github.com/clawinfra/toolgate/internal/security"
)

// SigningKeyEnv holds the hex Ed25519 private key used by "profile sign".
const SigningKeyEnv = "TOOLGATE_SIGNING_KEY"

func newProfileCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect, validate and sign security profiles",
	}
	cmd.AddCommand(
		newProfileShowCmd(g),
		newProfileValidateCmd(g),
		newProfileKeygenCmd(),
		newProfileSignCmd(g),
	)
	return cmd
}

func newProfileShowCmd(g *globalFlags) *cobra.Command {
	var contextName string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the profile that would be active",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, _, err := setup(cmd, g)
			if err != nil {
				return err
			}
			if contextName != "" {
				cfg.Profile.Context = contextName
			}
			var pub []byte
			if cfg.Profile.PublicKey != "" {
				if pub, err = security.DecodePublicKey(cfg.Profile.PublicKey); err != nil {
					return err
				}
			}
			store := profile.NewStore(profile.Options{
				Path:        cfg.Profile.Path,
				Context:     cfg.Profile.Context,
				PublicKey:   pub,
				LoadTimeout: cfg.ProfileLoadTimeout(),
				Logger:      logger,
			})
			return printJSON(cmd.OutOrStdout(), store.Reload(cmd.Context()))
		},
	}
	cmd.Flags().StringVar(&contextName, "context", "", "context to select (overrides config)")
	return cmd
}

func newProfileValidateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Check a policy document and its signature",
		Long: `Decode the policy document, check every profile in it and, when a
public key is configured, verify the detached signature.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := setup(cmd, g)
			if err != nil {
				return err
			}
			path := cfg.Profile.Path
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no policy document: pass a path or set profile.path")
			}
			doc, err := profile.LoadDocument(path)
			if err != nil {
				return err
			}
			if err := profile.Check(doc); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			signed := false
			if cfg.Profile.PublicKey != "" {
				pub, err := security.DecodePublicKey(cfg.Profile.PublicKey)
				if err != nil {
					return err
				}
				if err := profile.VerifyFile(path, doc, pub); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				signed = true
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"path":     path,
				"valid":    true,
				"verified": signed,
				"contexts": slices.Sorted(maps.Keys(doc)),
			})
		},
	}
}

func newProfileKeygenCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 key pair for signing policies",
		Long: `Generate a key pair. The public key goes in profile.publicKey; keep the
private key for "toolgate profile sign". With --out the private key is written
to that file (mode 0600) instead of stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := security.GenerateKeyPair()
			if err != nil {
				return err
			}
			result := map[string]string{"public_key": hex.EncodeToString(pub)}
			if out != "" {
				if err := os.WriteFile(out, []byte(hex.EncodeToString(priv)+"\n"), 0o600); err != nil {
					return fmt.Errorf("write private key: %w", err)
				}
				result["private_key_file"] = out
			} else {
				result["private_key"] = hex.EncodeToString(priv)
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the private key to this file")
	return cmd
}

func newProfileSignCmd(g *globalFlags) *cobra.Command {
	var keyFile string
	cmd := &cobra.Command{
		Use:   "sign [path]",
		Short: "Write a detached signature next to a policy document",
		Long: `Sign the policy document with a hex Ed25519 private key read from
--key-file or ` + SigningKeyEnv + `. The signature is written to <path>.sig.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := setup(cmd, g)
			if err != nil {
				return err
			}
			path := cfg.Profile.Path
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no policy document: pass a path or set profile.path")
			}

			raw := os.Getenv(SigningKeyEnv)
			if keyFile != "" {
				data, err := os.ReadFile(keyFile)
				if err != nil {
					return fmt.Errorf("read signing key: %w", err)
				}
				raw = string(data)
			}
			if raw == "" {
				return fmt.Errorf("no signing key: use --key-file or set %s", SigningKeyEnv)
			}
			priv, err := security.DecodePrivateKey(raw)
			if err != nil {
				return err
			}
			sigPath, err := profile.SignFile(path, priv)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"document": path, "signature": sigPath})
		},
	}
	cmd.Flags().StringVar(&keyFile, "key-file", "", "file holding the hex private key")
	return cmd
}
