// Command madkerneld wires the core snapshot, authentication pipeline,
// OAuth token service, APPEND ingest transaction, and delivery channel
// into a runnable process on top of kernelcli's subcommand registry. It
// intentionally does not parse a full directive-driven module graph:
// wire protocols, TLS termination, and directory backends live outside
// this kernel, so there is nothing here for a config-driven module
// loader to instantiate beyond the handful of settings read below.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/madkernel/server/framework/config"
	"github.com/madkernel/server/framework/log"
	"github.com/madkernel/server/framework/module"
	"github.com/madkernel/server/internal/auth"
	kernelcli "github.com/madkernel/server/internal/cli"
	_ "github.com/madkernel/server/internal/cli/ctl"
	"github.com/madkernel/server/internal/core"
	"github.com/madkernel/server/internal/oauth"
	"github.com/madkernel/server/internal/storage/gormstore"
	"github.com/madkernel/server/internal/storage/memory"
)

func init() {
	kernelcli.AddGlobalFlag(&cli.PathFlag{
		Name:    "config",
		Usage:   "Configuration file to use",
		EnvVars: []string{"MADKERNEL_CONFIG"},
		Value:   "/etc/madkernel/madkernel.conf",
	})
	kernelcli.AddGlobalFlag(&cli.BoolFlag{
		Name:        "debug",
		Usage:       "enable debug logging early",
		Destination: &log.DefaultLogger.Debug,
	})

	kernelcli.AddSubcommand(&cli.Command{
		Name:  "run",
		Usage: "Start the kernel and its OAuth token endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "address the OAuth token endpoint listens on",
				Value: "127.0.0.1:8080",
			},
			&cli.StringFlag{
				Name:    "state-dir",
				Usage:   "path to the state directory",
				EnvVars: []string{"MADKERNEL_STATE_DIR"},
				Value:   config.DefaultStateDirectoryHint,
			},
		},
		Action: runAction,
	})

	kernelcli.AddSubcommand(&cli.Command{
		Name:  "reload",
		Usage: "Signal a running instance to rebuild and swap its Core snapshot",
		Description: `reload does not mutate any running process's state directly: Core is a
value that is only ever replaced wholesale by build-then-swap. This
subcommand is a thin signal sender; the running process's own SIGHUP
handler (installed by 'run') performs the actual rebuild.`,
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "pid", Usage: "pid of the running madkerneld process", Required: true},
		},
		Action: func(c *cli.Context) error {
			proc, err := os.FindProcess(c.Int("pid"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if err := proc.Signal(syscall.SIGHUP); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return nil
		},
	})
}

// loadOAuthKey reads the oauth_key file from stateDir. It refuses to
// start without one rather than silently generating a key that 'oauth-key
// --generate' would later overwrite, invalidating every issued token.
func loadOAuthKey(stateDir string) ([]byte, error) {
	path := filepath.Join(stateDir, "oauth_key")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("madkerneld: no oauth_key at %s; run 'oauth-key --generate' first", path)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("madkerneld: malformed oauth_key at %s", path)
	}
	return key, nil
}

// kernelSettings is the subset of the configuration file madkerneld
// itself binds; everything else in the file belongs to protocol
// front-ends and is ignored here.
type kernelSettings struct {
	listen string

	// storage is the backend selector plus its DSN arguments:
	// "memory", "sqlite <path>", "postgres <dsn>", or "mysql <dsn>".
	storage []string

	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	refreshRenewWithin time.Duration
	authCodeTTL        time.Duration
}

func defaultSettings() kernelSettings {
	return kernelSettings{
		listen:             "127.0.0.1:8080",
		storage:            []string{"memory"},
		accessTokenExpiry:  1 * time.Hour,
		refreshTokenExpiry: 30 * 24 * time.Hour,
		refreshRenewWithin: 7 * 24 * time.Hour,
		authCodeTTL:        10 * time.Minute,
	}
}

// loadSettings parses the directive file at path and binds the kernel's
// directives. A missing file is not an error; defaults apply.
func loadSettings(path string) (kernelSettings, error) {
	s := defaultSettings()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, err
	}
	defer f.Close()

	nodes, err := config.Parse(f, path)
	if err != nil {
		return s, err
	}

	m := config.NewMap(nil, &config.Node{Children: nodes})
	m.AllowUnknown()
	m.String("oauth_listen", false, false, s.listen, &s.listen)
	m.StringList("storage", false, false, s.storage, &s.storage)
	m.Duration("oauth_expiry_access_token", false, false, s.accessTokenExpiry, &s.accessTokenExpiry)
	m.Duration("oauth_expiry_refresh_token", false, false, s.refreshTokenExpiry, &s.refreshTokenExpiry)
	m.Duration("oauth_expiry_refresh_token_renew", false, false, s.refreshRenewWithin, &s.refreshRenewWithin)
	m.Duration("oauth_expiry_auth_code", false, false, s.authCodeTTL, &s.authCodeTTL)
	if _, err := m.Process(); err != nil {
		return s, err
	}
	return s, nil
}

// buildStorage assembles the data-plane handles for the configured
// backend. "memory" is the zero-setup default; "sqlite <path>" runs the
// gormstore backend in its in-memory-with-disk-sync mode so the hot
// path never waits on disk; "postgres"/"mysql" connect directly.
func buildStorage(settings kernelSettings) (core.Storage, error) {
	driver := "memory"
	if len(settings.storage) > 0 {
		driver = settings.storage[0]
	}

	if driver == "memory" {
		return core.Storage{
			Data:    memory.NewDataStore(),
			Blob:    memory.NewBlobStore(),
			Lookup:  memory.NewLookupStore(),
			Primary: memory.NewDirectory(),
		}, nil
	}

	cfg := gormstore.Config{Driver: driver, DSN: settings.storage[1:]}
	if driver == "sqlite" || driver == "sqlite3" {
		cfg.InMemory = true
		cfg.SyncInterval = time.Minute
	}
	db, err := gormstore.Open(cfg)
	if err != nil {
		return core.Storage{}, err
	}

	dir, err := gormstore.NewDirectory(db)
	if err != nil {
		return core.Storage{}, err
	}
	lookup, err := gormstore.NewLookupStore(db)
	if err != nil {
		return core.Storage{}, err
	}
	data, err := gormstore.NewDataStore(db)
	if err != nil {
		return core.Storage{}, err
	}
	blobs, err := gormstore.NewBlobStore(db)
	if err != nil {
		return core.Storage{}, err
	}
	return core.Storage{Data: data, Blob: blobs, Lookup: lookup, Primary: dir}, nil
}

// buildCore assembles a Core snapshot around the configured storage
// backend.
func buildCore(settings kernelSettings, oauthKey []byte) (*core.Core, error) {
	storage, err := buildStorage(settings)
	if err != nil {
		return nil, err
	}

	return &core.Core{
		Storage: storage,
		JMAP: core.JMAPConfig{
			OAuthKey:                     oauthKey,
			OAuthExpiryAccessToken:       int64(settings.accessTokenExpiry.Seconds()),
			OAuthExpiryRefreshToken:      int64(settings.refreshTokenExpiry.Seconds()),
			OAuthExpiryRefreshTokenRenew: int64(settings.refreshRenewWithin.Seconds()),
			OAuthExpiryAuthCode:          int64(settings.authCodeTTL.Seconds()),
		},
		Security: core.NewSecurity(),
		Log:      log.Logger{Name: "madkernel"},
	}, nil
}

func runAction(c *cli.Context) error {
	stateDir := c.String("state-dir")
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	config.StateDirectory = stateDir

	settings, err := loadSettings(c.Path("config"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if c.IsSet("listen") {
		settings.listen = c.String("listen")
	}

	oauthKey, err := loadOAuthKey(stateDir)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	initial, err := buildCore(settings, oauthKey)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	shared := core.NewSharedCore(initial)

	passwords := &accountPasswordResolver{shared: shared}
	tokens := &oauth.TokenService{
		Key:                        shared.Load().JMAP.OAuthKey,
		Passwords:                  passwords,
		AccessTokenExpiry:          time.Duration(shared.Load().JMAP.OAuthExpiryAccessToken) * time.Second,
		RefreshTokenExpiry:         time.Duration(shared.Load().JMAP.OAuthExpiryRefreshToken) * time.Second,
		RefreshTokenRenewThreshold: time.Duration(shared.Load().JMAP.OAuthExpiryRefreshTokenRenew) * time.Second,
	}
	codes := &oauth.CodeStore{Store: shared.Load().Storage.Lookup, TTL: shared.Load().JMAP.OAuthExpiryAuthCode}
	oauthHandler := &oauth.Handler{Tokens: tokens, Codes: codes}

	mux := http.NewServeMux()
	mux.Handle("/oauth/token", oauthHandler)

	server := &http.Server{Addr: settings.listen, Handler: mux}

	go func() {
		log.DefaultLogger.Debugf("oauth token endpoint listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.DefaultLogger.Error("oauth endpoint failed", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			log.DefaultLogger.Debugf("reload requested, rebuilding Core snapshot")
			reloaded, err := loadSettings(c.Path("config"))
			if err != nil {
				log.DefaultLogger.Error("reload failed, keeping current snapshot", err)
				continue
			}
			next, err := buildCore(reloaded, oauthKey)
			if err != nil {
				log.DefaultLogger.Error("reload failed, keeping current snapshot", err)
				continue
			}
			next.Security.Stop()
			next.Security = shared.Load().Security.Clone()
			shared.Swap(next)
			continue
		}
		break
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// accountPasswordResolver implements oauth.PasswordHashResolver against
// whatever Directory the current Core snapshot publishes, resolving the
// fallback-admin sentinel the same way the token service's Issue/Validate
// does.
type accountPasswordResolver struct {
	shared *core.SharedCore
}

func (r *accountPasswordResolver) PasswordHash(ctx context.Context, accountID uint32) (string, error) {
	snap := r.shared.Load()
	if accountID == auth.FallbackAdminAccountID {
		if snap.JMAP.FallbackAdmin == nil {
			return "", oauth.ErrAccountGone
		}
		return snap.JMAP.FallbackAdmin.PasswordHash, nil
	}
	principal, err := snap.Storage.Primary.Query(ctx, module.QueryByID, fmt.Sprint(accountID), false)
	if err != nil || principal == nil || len(principal.Secrets) == 0 {
		return "", oauth.ErrAccountGone
	}
	return principal.Secrets[0], nil
}

func main() {
	kernelcli.Run()
}
