// Package ctl holds administrative subcommands layered on top of
// internal/cli's shared app object; each registers itself from init().
package ctl

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/madkernel/server/framework/config"
	kernelcli "github.com/madkernel/server/internal/cli"
	"github.com/urfave/cli/v2"
)

// oauthKeyFile is the name of the persisted oauth_key file under
// config.StateDirectory.
const oauthKeyFile = "oauth_key"

func init() {
	kernelcli.AddSubcommand(&cli.Command{
		Name:  "oauth-key",
		Usage: "Print or generate the JMAP config's oauth_key",
		Description: `The oauth_key is the symmetric key the OAuth token service uses to seal
and open bearer tokens. It is generated once and
stored in the state directory (default: ` + config.DefaultStateDirectoryHint + `/oauth_key);
rotating it invalidates every outstanding token, the same way rotating a
password does.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "state-dir",
				Usage:   "Path to the state directory",
				EnvVars: []string{"MADKERNEL_STATE_DIR"},
			},
			&cli.BoolFlag{
				Name:  "generate",
				Usage: "Generate a fresh key, overwriting any existing one",
			},
		},
		Action: func(c *cli.Context) error {
			stateDir := c.String("state-dir")
			if stateDir == "" {
				stateDir = config.StateDirectory
			}
			if stateDir == "" {
				stateDir = config.DefaultStateDirectoryHint
			}
			keyPath := filepath.Join(stateDir, oauthKeyFile)

			if c.Bool("generate") {
				key := make([]byte, 32)
				if _, err := rand.Read(key); err != nil {
					return fmt.Errorf("oauth-key: generate: %w", err)
				}
				if err := os.MkdirAll(stateDir, 0o700); err != nil {
					return fmt.Errorf("oauth-key: %w", err)
				}
				encoded := base64.StdEncoding.EncodeToString(key)
				if err := os.WriteFile(keyPath, []byte(encoded), 0o600); err != nil {
					return fmt.Errorf("oauth-key: write %s: %w", keyPath, err)
				}
				fmt.Println(encoded)
				return nil
			}

			data, err := os.ReadFile(keyPath)
			if err != nil {
				if os.IsNotExist(err) {
					return fmt.Errorf("oauth_key not found at %s; run 'oauth-key --generate' first", keyPath)
				}
				return fmt.Errorf("oauth-key: read %s: %w", keyPath, err)
			}
			fmt.Print(string(data))
			return nil
		},
	})
}
