// gamehost - game server dashboard backend and admin console
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/ernie/gamehost/internal/api"
	"github.com/ernie/gamehost/internal/auth"
	"github.com/ernie/gamehost/internal/config"
	"github.com/ernie/gamehost/internal/domain"
	"github.com/ernie/gamehost/internal/realtime"
	"github.com/ernie/gamehost/internal/storage"
)

var version = "dev"

const defaultConfigPath = "/etc/gamehost/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "serve":
		cmdServe(args)
	case "user":
		cmdUser(args)
	case "signup":
		cmdSignup(args)
	case "login":
		cmdLogin(args)
	case "logout":
		cmdLogout(args)
	case "whoami":
		cmdWhoami(args)
	case "profile":
		cmdProfile(args)
	case "stats":
		cmdStats(args)
	case "history":
		cmdHistory(args)
	case "restart", "stop", "start", "announce", "message", "kick", "ban", "custom":
		cmdAction(os.Args[1], args)
	case "watch":
		cmdWatch(args)
	case "probe":
		cmdProbe(args)
	case "version":
		fmt.Printf("gamehost %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: gamehost <command> [options] [args]")
	fmt.Println()
	fmt.Println("Backend:")
	fmt.Println("  serve                               Start the backend (REST, auth, realtime)")
	fmt.Println("  user add --email E [--admin] <username>")
	fmt.Println("                                      Add a user (prompts for password)")
	fmt.Println("  user remove <username>              Remove a user")
	fmt.Println("  user list                           List all users")
	fmt.Println("  user admin <username>               Toggle admin status for a user")
	fmt.Println("  probe --address H:P --server ID     Report a game server's UDP status as its stats")
	fmt.Println()
	fmt.Println("Account:")
	fmt.Println("  signup [--email E] [--username U]   Create an account and sign in")
	fmt.Println("  login [--email E]                   Sign in with email and password")
	fmt.Println("  login --provider steam|discord      Sign in through the browser")
	fmt.Println("  logout                              Sign out")
	fmt.Println("  whoami                              Show the signed-in user")
	fmt.Println("  profile [--username U] [--bio B]    Show or update your profile")
	fmt.Println()
	fmt.Println("Server:")
	fmt.Println("  stats                               Show the latest server stats")
	fmt.Println("  history [--limit N]                 Show recent commands (default: 20)")
	fmt.Println("  restart | stop | start              Queue a lifecycle command")
	fmt.Println("  announce <message>                  Broadcast a message")
	fmt.Println("  message <player> <message>          Message one player")
	fmt.Println("  kick <player> [reason]              Kick a player")
	fmt.Println("  ban <player> <reason>               Ban a player")
	fmt.Println("  custom <command>                    Send a raw console command")
	fmt.Println("  watch                               Open the live admin console")
	fmt.Println()
	fmt.Println("  version                             Show version")
	fmt.Println("  help                                Show this help")
	fmt.Println()
	fmt.Println("Client Options:")
	fmt.Println("  --config <path>    Client configuration file (default: user config dir)")
	fmt.Println("  --server <id>      Game server id (default: client.server_id)")
	fmt.Println("  --yes              Skip confirmation for destructive commands")
	fmt.Println("  --wait             Wait for the worker to finish the command")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Printf("  %s, %s, %s\n", config.EnvBackendURL, config.EnvBackendAnonKey, config.EnvAPIBaseURL)
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  gamehost serve --config /etc/gamehost/config.yml")
	fmt.Println("  gamehost user add --admin --email admin@example.com admin")
	fmt.Println("  gamehost login --provider steam")
	fmt.Println("  gamehost announce --server srv1 \"Restarting in 5 minutes\"")
	fmt.Println("  gamehost kick --server srv1 --wait bob afk")
}

// cmdServe starts the backend
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	switch {
	case cfg.Auth.JWTSecret == "":
		log.Fatalf("No JWT secret configured: set auth.jwt_secret")
	case len(cfg.Auth.JWTSecret) < auth.MinSecretLength:
		log.Printf("Warning: JWT secret is shorter than %d bytes", auth.MinSecretLength)
	}

	log.Printf("gamehost %s starting...", version)

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()
	log.Printf("Database initialized at %s", cfg.Database.Path)

	bus, err := realtime.NewBus(realtime.Options{Host: cfg.Realtime.NATSHost, Port: cfg.Realtime.NATSPort})
	if err != nil {
		log.Fatalf("Failed to start realtime bus: %v", err)
	}
	defer bus.Close()
	if cfg.Realtime.NATSPort > 0 {
		log.Printf("Realtime bus listening on %s:%d", cfg.Realtime.NATSHost, cfg.Realtime.NATSPort)
	}

	if cfg.Auth.AnonKey == "" {
		log.Printf("Warning: No anon key configured. API requests will not require an apikey header.")
	}
	if cfg.Auth.ServiceKey == "" {
		log.Printf("Warning: No service key configured. Worker endpoints are disabled.")
	}
	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenDuration, cfg.Auth.RefreshTokenDuration)

	opts := api.Options{
		StaticDir:          cfg.Server.StaticDir,
		PublicURL:          cfg.Server.PublicURL,
		AnonKey:            cfg.Auth.AnonKey,
		ServiceKey:         cfg.Auth.ServiceKey,
		RedirectAllowlist:  cfg.Auth.RedirectAllowlist,
		MaxAttempts:        cfg.Queue.MaxAttempts,
		EnforceTransitions: cfg.Queue.EnforceTransitions,
		LoginRate:          cfg.Auth.LoginRate,
		LoginBurst:         cfg.Auth.LoginBurst,
		TrustedProxies:     cfg.Auth.TrustedProxies,
	}
	if cfg.Auth.Steam.Enabled {
		opts.Steam = auth.NewSteamOpenID(cfg.Auth.Steam.APIKey)
		log.Printf("Steam sign-in enabled")
	}
	if cfg.Auth.Discord.ClientID != "" {
		redirect := strings.TrimRight(cfg.Server.PublicURL, "/") + "/auth/v1/callback/discord"
		opts.Discord = auth.NewDiscord(cfg.Auth.Discord.ClientID, cfg.Auth.Discord.ClientSecret, redirect)
		log.Printf("Discord sign-in enabled")
	}

	router := api.NewRouter(store, authService, bus, opts)
	if cfg.Server.StaticDir != "" {
		log.Printf("Serving static files from %s", cfg.Server.StaticDir)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	router.StartMaintenance(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	server := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", addr)
		log.Printf("Public URL is %s", cfg.Server.PublicURL)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case err := <-serverErr:
		log.Fatalf("HTTP server error: %v", err)
	}

	log.Println("Shutting down HTTP server...")
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	cancel()
	log.Println("Shutdown complete")
}

func cmdUser(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Error: user subcommand required: add, remove, list, admin\n")
		os.Exit(1)
	}

	subCmd := args[0]
	fs := flag.NewFlagSet("user "+subCmd, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	isAdmin := fs.Bool("admin", false, "create as admin user")
	email := fs.String("email", "", "email address used to sign in")
	fs.Parse(args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	remaining := fs.Args()

	switch subCmd {
	case "add":
		err = cmdUserAdd(ctx, store, *email, *isAdmin, remaining)
	case "remove":
		err = cmdUserRemove(ctx, store, remaining)
	case "list":
		err = cmdUserList(ctx, store)
	case "admin":
		err = cmdUserAdmin(ctx, store, remaining)
	default:
		err = fmt.Errorf("unknown user command: %s (use: add, remove, list, admin)", subCmd)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func cmdUserAdd(ctx context.Context, store *storage.Store, email string, isAdmin bool, args []string) error {
	if len(args) < 1 || email == "" {
		return fmt.Errorf("usage: gamehost user add --email E [--admin] <username>")
	}
	username := args[0]

	if _, err := store.GetUserByUsername(ctx, username); err == nil {
		return fmt.Errorf("user '%s' already exists", username)
	}

	password, err := readNewPassword()
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	u := &storage.User{
		User:         domain.User{Email: email, Username: username, IsAdmin: isAdmin},
		PasswordHash: hash,
	}
	if err := store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return fmt.Errorf("a user with that email or username already exists")
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	if _, err := store.SyncProfile(ctx, u); err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}

	roleStr := "user"
	if isAdmin {
		roleStr = "admin"
	}
	fmt.Printf("User '%s' created successfully (role: %s)\n", username, roleStr)
	return nil
}

// readNewPassword prompts for a password twice
func readNewPassword() (string, error) {
	fmt.Print("Enter password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if len(password) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if string(password) != string(confirm) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(password), nil
}

func cmdUserRemove(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: gamehost user remove <username>")
	}
	username := args[0]

	if err := store.DeleteUser(ctx, username); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("user not found: %s", username)
		}
		return fmt.Errorf("failed to remove user: %w", err)
	}

	fmt.Printf("User '%s' removed\n", username)
	return nil
}

func cmdUserList(ctx context.Context, store *storage.Store) error {
	users, err := store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	if len(users) == 0 {
		fmt.Println("No users configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tEMAIL\tPROVIDER\tROLE\tLAST_LOGIN")
	fmt.Fprintln(w, "--------\t-----\t--------\t----\t----------")

	for _, user := range users {
		role := "user"
		if user.IsAdmin {
			role = "admin"
		}
		email := user.Email
		if email == "" {
			email = "-"
		}
		lastLogin := "never"
		if user.LastLogin != nil {
			lastLogin = user.LastLogin.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", user.Username, email, user.Provider, role, lastLogin)
	}
	return w.Flush()
}

func cmdUserAdmin(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: gamehost user admin <username>")
	}
	username := args[0]

	user, err := store.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("user not found: %s", username)
	}

	newAdminStatus := !user.IsAdmin
	if err := store.UpdateUserAdmin(ctx, user.ID, newAdminStatus); err != nil {
		return fmt.Errorf("failed to update admin status: %w", err)
	}

	if newAdminStatus {
		fmt.Printf("User '%s' is now an admin\n", username)
	} else {
		fmt.Printf("User '%s' is no longer an admin\n", username)
	}
	return nil
}
