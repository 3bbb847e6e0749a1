package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"cloudcutter/internal/apcfg"
)

func newGenLicenseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gen-license",
		Short: "Generate a throwaway uuid/auth_key/psk triple for benign provisioning",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			uuid, authKey, psk, err := apcfg.GenerateLicense()
			if err != nil {
				return fmt.Errorf("generate license: %w", err)
			}
			fmt.Printf("uuid     = %q\nauth_key = %q\npsk      = %q\n", uuid, authKey, psk)
			return nil
		},
	}
	return cmd
}
