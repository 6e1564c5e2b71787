package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/org/licenseserver/internal/crypto"
	"github.com/org/licenseserver/internal/sign"
	"github.com/org/licenseserver/internal/token"
)

var rootCmd = &cobra.Command{
	Use:   "lsctl",
	Short: "License server CLI",
	Long:  "A CLI for managing providers, licenses and tokens on a license server.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(providerCmd())
	rootCmd.AddCommand(licenseCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(configCmd())
}

// --- provider ---

func providerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "provider", Short: "Manage providers"}

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			checkSign, _ := cmd.Flags().GetBool("check-sign")
			checkToken, _ := cmd.Flags().GetBool("check-token")
			manage, _ := cmd.Flags().GetBool("manage-providers")

			flagsJSON, err := json.Marshal(map[string]bool{
				"check_sign":       checkSign,
				"check_token":      checkToken,
				"manage_providers": manage,
			})
			if err != nil {
				return err
			}

			client, err := newClient()
			if err != nil {
				printError(err.Error())
				return nil
			}
			result, err := client.postJSON("/providers.json", sign.Params{
				"name":  args[0],
				"flags": json.RawMessage(flagsJSON),
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	createCmd.Flags().Bool("check-sign", false, "Require signatures on license reads")
	createCmd.Flags().Bool("check-token", false, "Require one-time tokens on license reads")
	createCmd.Flags().Bool("manage-providers", false, "Allow this provider to manage providers")

	destroyCmd := &cobra.Command{
		Use:   "destroy <name>",
		Short: "Destroy a provider and its key material",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				printError(err.Error())
				return nil
			}
			// The server folds the path name into the signed parameters,
			// so it must be part of what we sign.
			result, err := client.deleteJSON("/providers/"+args[0]+".json", sign.Params{
				"name": args[0],
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(createCmd, destroyCmd)
	return cmd
}

// --- license ---

func licenseCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "license", Short: "Manage licenses"}

	createCmd := &cobra.Command{
		Use:   "create <content_id>",
		Short: "Issue a license for a content ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, _ := cmd.Flags().GetInt64("sequence")
			client, err := newClient()
			if err != nil {
				printError(err.Error())
				return nil
			}
			params := sign.Params{"content_id": args[0]}
			if seq != 0 {
				params["sequence_id"] = seq
			}
			result, err := client.postJSON("/licenses.json", params)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	createCmd.Flags().Int64("sequence", 0, "Sequence ID (default 0)")

	getCmd := &cobra.Command{
		Use:   "get <content_id>",
		Short: "Fetch a license key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, _ := cmd.Flags().GetInt64("sequence")
			tok, _ := cmd.Flags().GetString("token")
			client, err := newClient()
			if err != nil {
				printError(err.Error())
				return nil
			}
			params := sign.Params{"content_id": args[0]}
			if seq != 0 {
				params["sequence_id"] = seq
			}
			if tok != "" {
				params["token"] = tok
			}
			body, err := client.getText("/licenses/"+args[0], params, true)
			if err != nil {
				printError(err.Error())
				return nil
			}
			fmt.Println(strings.TrimSpace(body))
			return nil
		},
	}
	getCmd.Flags().Int64("sequence", 0, "Sequence ID (default 0)")
	getCmd.Flags().String("token", "", "One-time token, for providers with check_token")

	cmd.AddCommand(createCmd, getCmd)
	return cmd
}

// --- token ---

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "One-time token commands"}

	mintCmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint a one-time token with a random payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, _ := cmd.Flags().GetDuration("ttl")
			client, err := newClient()
			if err != nil {
				printError(err.Error())
				return nil
			}
			payload, err := crypto.RandomBytes(8)
			if err != nil {
				printError(err.Error())
				return nil
			}
			exp := time.Now().Add(ttl).Unix()
			tok, err := token.Mint(hex.EncodeToString(payload), exp, client.iv, client.key)
			if err != nil {
				printError(err.Error())
				return nil
			}
			fmt.Println(tok)
			return nil
		},
	}
	mintCmd.Flags().Duration("ttl", 5*time.Minute, "Token lifetime")

	cmd.AddCommand(mintCmd)
	return cmd
}

// --- sign ---

func signCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sign [key=value ...]",
		Short: "Compute a request signature for ad-hoc parameters",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				printError(err.Error())
				return nil
			}
			params := sign.Params{"provider": client.provider}
			for _, kv := range args {
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("invalid key=value pair: %s", kv)
				}
				params[parts[0]] = parts[1]
			}
			sig, err := sign.Sign(params, client.iv, client.key)
			if err != nil {
				printError(err.Error())
				return nil
			}
			fmt.Println(sig)
			return nil
		},
	}
}

// --- config ---

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage CLI configuration"}

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Set and persist configuration values",
		RunE: func(cmd *cobra.Command, args []string) error {
			if v, _ := cmd.Flags().GetString("address"); v != "" {
				cfg.Address = v
			}
			if v, _ := cmd.Flags().GetString("provider"); v != "" {
				cfg.Provider = v
			}
			if v, _ := cmd.Flags().GetString("sign-iv"); v != "" {
				cfg.SignIV = v
			}
			if v, _ := cmd.Flags().GetString("sign-key"); v != "" {
				cfg.SignKey = v
			}
			if v, _ := cmd.Flags().GetString("cacert"); v != "" {
				cfg.TLSCACert = v
			}
			if err := saveConfig(); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Config saved to " + configPath())
			return nil
		},
	}
	setCmd.Flags().String("address", "", "Server address, e.g. https://127.0.0.1:8300")
	setCmd.Flags().String("provider", "", "Provider name to act as")
	setCmd.Flags().String("sign-iv", "", "Hex signing IV")
	setCmd.Flags().String("sign-key", "", "Hex signing key")
	setCmd.Flags().String("cacert", "", "Path to a CA certificate for TLS")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			printResult(map[string]any{
				"address":     cfg.Address,
				"provider":    cfg.Provider,
				"sign_iv":     cfg.SignIV,
				"sign_key":    mask(cfg.SignKey),
				"tls_ca_cert": cfg.TLSCACert,
			})
			return nil
		},
	}

	cmd.AddCommand(setCmd, showCmd)
	return cmd
}

func mask(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8] + strings.Repeat("*", len(s)-8)
}
