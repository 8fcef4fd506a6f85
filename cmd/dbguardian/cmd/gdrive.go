package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/semmidev/dbguardian/internal/adapter/storage"
	"github.com/semmidev/dbguardian/internal/config"
)

var gdriveCmd = &cobra.Command{
	Use:   "gdrive",
	Short: "Google Drive primary storage helpers",
}

var gdriveAuthorizeCmd = &cobra.Command{
	Use:   "authorize",
	Short: "Obtain a refresh token for Google Drive storage",
	Long: `Start a small web server for the OAuth consent flow. Open
http://<addr>/auth/google/drive in a browser, grant access, and copy the
refresh token shown into storage.gdrive.refresh_token.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		secret, _ := cmd.Flags().GetString("client-secret")

		if secret == "" {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			secret = cfg.Storage.GDrive.ClientSecretFile
		}
		if secret == "" {
			return errors.New("a client secret file is required (--client-secret or storage.gdrive.client_secret_file)")
		}

		oauthCfg, err := storage.DriveOAuthConfig(secret, "http://"+addr+"/auth/google/callback")
		if err != nil {
			return err
		}

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		srv := &http.Server{
			Addr:              addr,
			Handler:           storage.AuthorizeHandler(oauthCfg),
			ReadHeaderTimeout: 5 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()
		cmd.Printf("Open http://%s/auth/google/drive to authorize. Press Ctrl+C when done.\n", addr)

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	gdriveAuthorizeCmd.Flags().String("addr", "localhost:8085", "address for the OAuth callback server")
	gdriveAuthorizeCmd.Flags().String("client-secret", "", "OAuth client secret JSON (defaults to storage.gdrive.client_secret_file)")

	gdriveCmd.AddCommand(gdriveAuthorizeCmd)
	rootCmd.AddCommand(gdriveCmd)
}
