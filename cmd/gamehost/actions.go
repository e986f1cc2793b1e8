package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/ernie/gamehost/internal/commands"
	"github.com/ernie/gamehost/internal/dashboard"
	"github.com/ernie/gamehost/internal/domain"
	"github.com/ernie/gamehost/internal/livestatus"
	"github.com/ernie/gamehost/internal/tui"
)

func requireServer(id string) string {
	if id == "" {
		fail(fmt.Errorf("no server selected (use --server or set client.server_id)"))
	}
	return id
}

func cmdStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	flags := addClientFlags(fs)
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	env := openClient(ctx, flags)
	serverID := requireServer(env.serverID(flags))

	stats, err := env.data.GetServerStats(ctx, serverID)
	if err != nil {
		fail(err)
	}
	if stats == nil {
		fmt.Printf("No stats reported for %s\n", serverID)
		return
	}

	fmt.Printf("Server:   %s\n", stats.ServerID)
	fmt.Printf("Players:  %d/%d\n", stats.PlayersOnline, stats.MaxPlayers)
	fmt.Printf("Map:      %s\n", stats.Map)
	if stats.GameMode != "" {
		fmt.Printf("Mode:     %s\n", stats.GameMode)
	}
	if stats.Version != "" {
		fmt.Printf("Version:  %s\n", stats.Version)
	}
	rcon := "connected"
	if !stats.RconConnected {
		rcon = "disconnected"
		if stats.LastRconError != nil {
			rcon += " (" + *stats.LastRconError + ")"
		}
	}
	fmt.Printf("RCON:     %s\n", rcon)
	if !stats.UpdatedAt.IsZero() {
		fmt.Printf("Updated:  %s\n", stats.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}

	if len(stats.Players) == 0 {
		return
	}
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLAYER\tSCORE\tPING\tTEAM")
	fmt.Fprintln(w, "------\t-----\t----\t----")
	for _, p := range stats.Players {
		team := p.Team
		if team == "" {
			team = "-"
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", p.Name, p.Score, p.Ping, team)
	}
	w.Flush()
}

func cmdHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	flags := addClientFlags(fs)
	limit := fs.Int("limit", 20, "number of commands to show")
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	env := openClient(ctx, flags)

	list, err := env.data.GetCommandHistory(ctx, dashboard.HistoryFilter{ServerID: env.serverID(flags), Limit: *limit})
	if err != nil {
		fail(err)
	}
	if len(list) == 0 {
		fmt.Println("No commands")
		return
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tSERVER\tTYPE\tSTATUS\tDURATION\tDESCRIPTION")
	fmt.Fprintln(w, "-------\t------\t----\t------\t--------\t-----------")
	for _, c := range list {
		dur := "-"
		if d, ok := c.Duration(now); ok {
			dur = d.Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.CreatedAt.Local().Format("2006-01-02 15:04"),
			c.ServerID, commands.TypeLabel(c.CommandType), c.Status.Label(), dur, c.Description)
	}
	w.Flush()
}

// buildAction turns a command name and its arguments into an action
func buildAction(name string, args []string) (commands.Action, error) {
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}
	rest := func(i int) string {
		if i < len(args) {
			return strings.Join(args[i:], " ")
		}
		return ""
	}

	switch name {
	case "restart":
		return commands.Restart(), nil
	case "stop":
		return commands.Stop(), nil
	case "start":
		return commands.Start(), nil
	case "announce":
		return commands.Announce(rest(0))
	case "message":
		return commands.Message(arg(0), rest(1))
	case "kick":
		return commands.Kick(arg(0), rest(1))
	case "ban":
		return commands.Ban(arg(0), rest(1))
	case "custom":
		return commands.Custom(rest(0))
	}
	return commands.Action{}, fmt.Errorf("unknown command: %s", name)
}

func cmdAction(name string, args []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	flags := addClientFlags(fs)
	yes := fs.BoolP("yes", "y", false, "skip confirmation")
	wait := fs.Bool("wait", false, "wait for the worker to finish the command")
	timeout := fs.Duration("timeout", 2*time.Minute, "how long --wait waits")
	fs.Parse(args)

	action, err := buildAction(name, fs.Args())
	if err != nil {
		fail(err)
	}

	ctx, cancel := signalContext()
	defer cancel()
	env := openClient(ctx, flags)
	serverID := requireServer(env.serverID(flags))

	if action.Type.Destructive() && !*yes {
		answer := prompt(fmt.Sprintf("%s on %s? [y/N] ", action.Description, serverID))
		if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
			fmt.Println("Cancelled")
			return
		}
	}

	// Subscribe before queueing so no status change is missed
	var updates chan domain.Command
	if *wait {
		updates = make(chan domain.Command, 64)
		sub, err := env.data.SubscribeToServerCommands(ctx, serverID, func(ev domain.CommandEvent) {
			select {
			case updates <- ev.Command:
			default:
			}
		})
		if err != nil {
			fail(err)
		}
		defer sub.Unsubscribe()
	}

	report := commands.Execute(ctx, env.data, serverID, action)
	if report.Err != nil {
		fail(fmt.Errorf("%s", report.Toast.Message))
	}
	fmt.Printf("%s (id %s)\n", report.Toast.Message, report.Command.ID)

	if *wait {
		waitForCommand(ctx, report.Command, updates, *timeout)
	}
}

// waitForCommand prints status changes of cmd until it reaches a terminal status
func waitForCommand(ctx context.Context, cmd *domain.Command, updates <-chan domain.Command, timeout time.Duration) {
	log := commands.NewLog(0)
	log.Apply(domain.CommandEvent{Event: domain.EventInsert, Command: *cmd})
	last := cmd.Status

	deadline := time.After(timeout)
	for {
		select {
		case c := <-updates:
			if c.ID != cmd.ID {
				continue
			}
			log.Apply(domain.CommandEvent{Event: domain.EventUpdate, Command: c})
			cur, _ := log.Get(cmd.ID)
			if cur.Status == last {
				continue
			}
			last = cur.Status
			fmt.Printf("Status: %s\n", cur.Status.Label())
			if !cur.Status.IsTerminal() {
				continue
			}
			if cur.Result != nil && *cur.Result != "" {
				fmt.Println(*cur.Result)
			}
			if cur.ErrorMessage != nil && *cur.ErrorMessage != "" {
				fail(fmt.Errorf("%s", *cur.ErrorMessage))
			}
			if cur.Status != domain.StatusCompleted {
				os.Exit(1)
			}
			return
		case <-deadline:
			fail(fmt.Errorf("command still %s after %v", last.Label(), timeout))
		case <-ctx.Done():
			return
		}
	}
}

func cmdWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	flags := addClientFlags(fs)
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	env := openClient(ctx, flags)
	serverID := requireServer(env.serverID(flags))

	if err := env.manager.RefreshIfExpired(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	username := ""
	if s := env.manager.Session(); s != nil {
		username = displayName(s.User)
	}

	err := tui.Run(ctx, tui.Deps{
		Data:     env.data,
		Poller:   livestatus.New(env.cfg.Client.APIBaseURL),
		ServerID: serverID,
		Username: username,
	})
	if err != nil && ctx.Err() == nil {
		fail(err)
	}
}
