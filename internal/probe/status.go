// Package probe reads a game server's public status over UDP and reports it
// to the backend as the server's stats snapshot.
package probe

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ernie/gamehost/internal/domain"
)

const (
	oobHeader      = "\xff\xff\xff\xff"
	getStatus      = oobHeader + "getstatus\n"
	statusResponse = oobHeader + "statusResponse\n"
	defaultTimeout = 2 * time.Second
	maxResponse    = 65535
)

var colorCode = regexp.MustCompile(`\^[0-9a-zA-Z]`)

var gameTypes = map[int]string{
	0: "ffa",
	1: "tournament",
	2: "single",
	3: "tdm",
	4: "ctf",
	5: "oneflag",
	6: "overload",
	7: "harvester",
}

var teams = map[int]string{
	0: "free",
	1: "red",
	2: "blue",
	3: "spectator",
}

// Client queries servers that speak the Quake 3 out-of-band status protocol
type Client struct {
	Timeout time.Duration
}

// QueryStatus sends getstatus to address and parses the reply
func (c *Client) QueryStatus(ctx context.Context, address string) (*domain.ServerStats, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", address)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", address, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	conn.SetDeadline(deadline)

	if _, err := conn.Write([]byte(getStatus)); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	buf := make([]byte, maxResponse)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return ParseStatus(buf[:n])
}

// ParseStatus parses a statusResponse packet: a line of \key\value server
// variables followed by one line per player
func ParseStatus(data []byte) (*domain.ServerStats, error) {
	response := string(data)
	if !strings.HasPrefix(response, statusResponse) {
		return nil, fmt.Errorf("invalid response prefix")
	}
	lines := strings.Split(strings.TrimPrefix(response, statusResponse), "\n")

	vars := parseVars(lines[0])
	stats := &domain.ServerStats{
		Map:           vars["mapname"],
		Version:       vars["version"],
		RconConnected: true,
		GameData:      make(map[string]any, len(vars)),
		Players:       []domain.PlayerInfo{},
	}
	for k, v := range vars {
		stats.GameData[k] = v
	}
	if name := vars["sv_hostname"]; name != "" {
		stats.GameData["hostname"] = CleanName(name)
	}
	if gt, err := strconv.Atoi(vars["g_gametype"]); err == nil {
		stats.GameMode = gameTypes[gt]
	}
	if mc, err := strconv.Atoi(vars["sv_maxclients"]); err == nil {
		stats.MaxPlayers = mc
	}

	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		player, err := parsePlayerLine(line)
		if err != nil {
			continue
		}
		stats.Players = append(stats.Players, player)
	}
	stats.PlayersOnline = len(stats.Players)
	return stats, nil
}

// parseVars parses backslash-separated key/value pairs: \key1\value1\key2\value2
func parseVars(line string) map[string]string {
	vars := make(map[string]string)
	parts := strings.Split(line, "\\")

	start := 0
	if len(parts) > 0 && parts[0] == "" {
		start = 1
	}
	for i := start; i+1 < len(parts); i += 2 {
		vars[strings.ToLower(parts[i])] = parts[i+1]
	}
	return vars
}

// parsePlayerLine parses <score> <ping> [<team>] "<name>"
func parsePlayerLine(line string) (domain.PlayerInfo, error) {
	var player domain.PlayerInfo

	quoteStart := strings.Index(line, "\"")
	quoteEnd := strings.LastIndex(line, "\"")
	if quoteStart == -1 || quoteEnd <= quoteStart {
		return player, fmt.Errorf("no quoted name found")
	}
	player.Name = CleanName(line[quoteStart+1 : quoteEnd])

	parts := strings.Fields(line[:quoteStart])
	if len(parts) < 2 {
		return player, fmt.Errorf("missing score or ping")
	}
	player.Score, _ = strconv.Atoi(parts[0])
	player.Ping, _ = strconv.Atoi(parts[1])
	if len(parts) >= 3 {
		if t, err := strconv.Atoi(parts[2]); err == nil {
			player.Team = teams[t]
		}
	}
	return player, nil
}

// CleanName strips ^N color codes from a player or server name
func CleanName(name string) string {
	return colorCode.ReplaceAllString(name, "")
}
