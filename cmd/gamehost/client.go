package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/ernie/gamehost/internal/backend"
	"github.com/ernie/gamehost/internal/config"
	"github.com/ernie/gamehost/internal/dashboard"
	"github.com/ernie/gamehost/internal/domain"
	"github.com/ernie/gamehost/internal/session"
)

// clientFlags are shared by every client command
type clientFlags struct {
	configPath *string
	serverID   *string
}

func addClientFlags(fs *flag.FlagSet) clientFlags {
	return clientFlags{
		configPath: fs.String("config", defaultClientConfigPath(), "path to client config file"),
		serverID:   fs.String("server", "", "game server id"),
	}
}

func defaultClientConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "gamehost", "config.yml")
}

// clientEnv is the wired client side: backend, session manager and data access
type clientEnv struct {
	cfg     *config.Config
	manager *session.Manager
	data    *dashboard.Service
}

// serverID returns the --server flag or the configured default
func (e *clientEnv) serverID(flags clientFlags) string {
	if *flags.serverID != "" {
		return *flags.serverID
	}
	return e.cfg.Client.ServerID
}

// openClient loads client config and restores the persisted session
func openClient(ctx context.Context, flags clientFlags) *clientEnv {
	cfg, err := config.LoadClient(*flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	client := backend.New(cfg.Client)
	holder := session.NewHolder()
	data := dashboard.NewService(client, holder)

	manager := session.NewManager(client, session.Options{
		Holder: holder,
		Store:  session.FileStore{Path: cfg.Client.SessionPath},
		SyncUser: func(ctx context.Context) error {
			_, err := data.SyncUser(ctx)
			return err
		},
		ClearUserData: data.ClearCache,
		Reload: func() {
			fmt.Fprintln(os.Stderr, "Stored session was invalid and has been cleared. Please sign in again.")
		},
	})
	if err := manager.Initialize(ctx); err != nil {
		log.Printf("Warning: %v", err)
	}

	return &clientEnv{cfg: cfg, manager: manager, data: data}
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func prompt(label string) string {
	fmt.Print(label)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	return strings.TrimSpace(line)
}

func readPassword(label string) string {
	fmt.Print(label)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fail(fmt.Errorf("failed to read password: %w", err))
	}
	return string(password)
}

func requireBackend(env *clientEnv) {
	if !env.data.Configured() {
		fail(fmt.Errorf("no backend configured (set %s and %s)", config.EnvBackendURL, config.EnvBackendAnonKey))
	}
}

func cmdSignup(args []string) {
	fs := flag.NewFlagSet("signup", flag.ExitOnError)
	flags := addClientFlags(fs)
	email := fs.String("email", "", "email address")
	username := fs.String("username", "", "display name")
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	env := openClient(ctx, flags)
	requireBackend(env)

	if *email == "" {
		*email = prompt("Email: ")
	}
	if *username == "" {
		*username = prompt("Username: ")
	}
	password, err := readNewPassword()
	if err != nil {
		fail(err)
	}

	if err := env.manager.SignUp(ctx, *email, password, *username); err != nil {
		fail(err)
	}
	env.manager.Wait()
	printSignedIn(env)
}

func cmdLogin(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	flags := addClientFlags(fs)
	email := fs.String("email", "", "email address")
	provider := fs.String("provider", "", "sign in with steam or discord instead of a password")
	noBrowser := fs.Bool("no-browser", false, "print the sign-in URL instead of opening a browser")
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	env := openClient(ctx, flags)
	requireBackend(env)

	if *provider != "" {
		if err := loginWithProvider(ctx, env.manager, *provider, !*noBrowser); err != nil {
			fail(err)
		}
	} else {
		if *email == "" {
			*email = prompt("Email: ")
		}
		password := readPassword("Password: ")
		if err := env.manager.SignIn(ctx, *email, password); err != nil {
			fail(err)
		}
	}
	env.manager.Wait()
	printSignedIn(env)
}

func printSignedIn(env *clientEnv) {
	s := env.manager.Session()
	if s == nil {
		fail(session.ErrNoSession)
	}
	role := ""
	if env.manager.IsAdmin() {
		role = " (admin)"
	}
	fmt.Printf("Signed in as %s%s\n", displayName(s.User), role)
}

func displayName(u domain.User) string {
	if u.Username != "" {
		return u.Username
	}
	if u.Email != "" {
		return u.Email
	}
	return u.ID
}

func cmdLogout(args []string) {
	fs := flag.NewFlagSet("logout", flag.ExitOnError)
	flags := addClientFlags(fs)
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	env := openClient(ctx, flags)

	if env.manager.Session() == nil {
		fmt.Println("Not signed in")
		return
	}
	if err := env.manager.SignOut(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	fmt.Println("Signed out")
}

func cmdWhoami(args []string) {
	fs := flag.NewFlagSet("whoami", flag.ExitOnError)
	flags := addClientFlags(fs)
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	env := openClient(ctx, flags)

	s := env.manager.Session()
	if s == nil {
		fmt.Println("Not signed in")
		os.Exit(1)
	}
	u := s.User
	fmt.Printf("User:     %s\n", displayName(u))
	fmt.Printf("ID:       %s\n", u.ID)
	fmt.Printf("Provider: %s\n", u.Provider)
	if u.Email != "" {
		fmt.Printf("Email:    %s\n", u.Email)
	}
	if u.SteamID != nil {
		fmt.Printf("Steam ID: %s\n", *u.SteamID)
	}
	fmt.Printf("Admin:    %v\n", env.manager.IsAdmin())
	if !s.ExpiresAt.IsZero() {
		fmt.Printf("Expires:  %s\n", s.ExpiresAt.Local().Format("2006-01-02 15:04"))
	}
}

func cmdProfile(args []string) {
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	flags := addClientFlags(fs)
	username := fs.String("username", "", "new display name")
	bio := fs.String("bio", "", "new bio")
	avatar := fs.String("avatar-url", "", "new avatar URL")
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	env := openClient(ctx, flags)

	var upd domain.ProfileUpdate
	if fs.Changed("username") {
		upd.Username = username
	}
	if fs.Changed("bio") {
		upd.Bio = bio
	}
	if fs.Changed("avatar-url") {
		upd.AvatarURL = avatar
	}

	var profile *domain.Profile
	var err error
	if upd.Username != nil || upd.Bio != nil || upd.AvatarURL != nil {
		profile, err = env.data.UpdateProfile(ctx, upd)
	} else {
		profile, err = env.data.GetProfile(ctx)
	}
	if err != nil {
		if errors.Is(err, dashboard.ErrNotAuthenticated) {
			err = fmt.Errorf("sign in first with 'gamehost login'")
		}
		fail(err)
	}
	if profile == nil {
		fmt.Println("No profile (not signed in or no backend configured)")
		return
	}

	fmt.Printf("Username: %s\n", profile.Username)
	if profile.Bio != "" {
		fmt.Printf("Bio:      %s\n", profile.Bio)
	}
	if profile.AvatarURL != "" {
		fmt.Printf("Avatar:   %s\n", profile.AvatarURL)
	}
	if profile.LastSyncedAt != nil {
		fmt.Printf("Synced:   %s\n", profile.LastSyncedAt.Local().Format("2006-01-02 15:04"))
	}
}
