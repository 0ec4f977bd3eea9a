package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	serverURLFlagName   = "server-url"
	originFlagName      = "origin"
	minAgeFlagName      = "min-age"
	ageFlagName         = "age"
	protocolFlagName    = "protocol"
	docTypeFlagName     = "doctype"
	givenNameFlagName   = "given-name"
	familyNameFlagName  = "family-name"
	androidHashFlagName = "android-signing-key-hash"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mdoc-age-client",
		Short: "Present a self-issued test mDL to a running age verifier",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer logger.Sync()

			w, err := walletFromFlags(cmd, logger)
			if err != nil {
				return err
			}
			res, err := w.Run(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	rootCmd.Flags().String(serverURLFlagName, "http://localhost:8080", "Base URL of the age verifier")
	rootCmd.Flags().String(originFlagName, "http://localhost:8080", "Origin the wallet reports to the verifier")
	rootCmd.Flags().Int(minAgeFlagName, 18, "Minimum age to request")
	rootCmd.Flags().Int(ageFlagName, 30, "Age of the test holder in years")
	rootCmd.Flags().String(protocolFlagName, "openid4vp-v1-unsigned", "Request protocol")
	rootCmd.Flags().String(docTypeFlagName, "org.iso.18013.5.1.mDL", "Document type to request and present")
	rootCmd.Flags().String(givenNameFlagName, "Erika", "given_name of the test holder")
	rootCmd.Flags().String(familyNameFlagName, "Mustermann", "family_name of the test holder")
	rootCmd.Flags().String(androidHashFlagName, "", "Base64 signing key hash, for android:apk-key-hash origins")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func walletFromFlags(cmd *cobra.Command, logger *zap.Logger) (*Wallet, error) {
	flags := cmd.Flags()
	w := &Wallet{
		Client: &http.Client{Timeout: 30 * time.Second},
		Logger: logger,
	}
	var err error
	if w.ServerURL, err = flags.GetString(serverURLFlagName); err != nil {
		return nil, err
	}
	if w.Origin, err = flags.GetString(originFlagName); err != nil {
		return nil, err
	}
	if w.MinAge, err = flags.GetInt(minAgeFlagName); err != nil {
		return nil, err
	}
	if w.Age, err = flags.GetInt(ageFlagName); err != nil {
		return nil, err
	}
	if w.Protocol, err = flags.GetString(protocolFlagName); err != nil {
		return nil, err
	}
	if w.DocType, err = flags.GetString(docTypeFlagName); err != nil {
		return nil, err
	}
	if w.GivenName, err = flags.GetString(givenNameFlagName); err != nil {
		return nil, err
	}
	if w.FamilyName, err = flags.GetString(familyNameFlagName); err != nil {
		return nil, err
	}
	if w.AndroidSigningKeyHash, err = flags.GetString(androidHashFlagName); err != nil {
		return nil, err
	}
	if w.Age < 0 {
		return nil, fmt.Errorf("%s cannot be negative", ageFlagName)
	}
	return w, nil
}
